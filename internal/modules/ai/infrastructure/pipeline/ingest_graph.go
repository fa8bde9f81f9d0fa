package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"TradeRAG/internal/modules/ai/domain/market"
	"TradeRAG/internal/modules/ai/domain/rag"
	"TradeRAG/internal/modules/ai/infrastructure/normalize"
	"TradeRAG/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

type ingestState struct {
	Req  *IngestRequest
	Coll *rag.Collection

	Texts     []string
	NewTexts  []string
	Vectors   [][]float64
	Facts     int
	Documents int
	Skipped   int
	FailedEPs []string

	Inserted  int
	Published int

	Start time.Time
	Err   error
}

func (p *IngestPipeline) buildGraph(ctx context.Context) (compose.Runnable[*IngestRequest, *IngestResult], error) {
	const (
		Prepare = "Prepare"
		Collect = "Collect"
		Dedup   = "Dedup"
		Embed   = "Embed"
		Insert  = "Insert"
		Publish = "Publish"
		Finish  = "Finish"
	)

	g := compose.NewGraph[*IngestRequest, *IngestResult]()

	_ = g.AddLambdaNode(Prepare, compose.InvokableLambdaWithOption(p.prepareNode), compose.WithNodeName(Prepare))
	_ = g.AddLambdaNode(Collect, compose.InvokableLambdaWithOption(p.collectNode), compose.WithNodeName(Collect))
	_ = g.AddLambdaNode(Dedup, compose.InvokableLambdaWithOption(p.dedupNode), compose.WithNodeName(Dedup))
	_ = g.AddLambdaNode(Embed, compose.InvokableLambdaWithOption(p.embedNode), compose.WithNodeName(Embed))
	_ = g.AddLambdaNode(Insert, compose.InvokableLambdaWithOption(p.insertNode), compose.WithNodeName(Insert))
	_ = g.AddLambdaNode(Publish, compose.InvokableLambdaWithOption(p.publishNode), compose.WithNodeName(Publish))
	_ = g.AddLambdaNode(Finish, compose.InvokableLambdaWithOption(p.finishNode), compose.WithNodeName(Finish))

	_ = g.AddEdge(compose.START, Prepare)
	_ = g.AddEdge(Prepare, Collect)
	_ = g.AddEdge(Collect, Dedup)
	_ = g.AddEdge(Dedup, Embed)
	_ = g.AddEdge(Embed, Insert)
	_ = g.AddEdge(Insert, Publish)
	_ = g.AddEdge(Publish, Finish)
	_ = g.AddEdge(Finish, compose.END)

	return g.Compile(ctx, compose.WithGraphName("MarketIngestPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// prepareNode 校验请求并确保集合就绪（存储不可达时整次任务失败）
func (p *IngestPipeline) prepareNode(ctx context.Context, req *IngestRequest, _ ...any) (*ingestState, error) {
	st := &ingestState{Req: req, Start: time.Now()}
	if req == nil {
		st.Err = fmt.Errorf("nil request")
		return st, nil
	}
	req.Trigger = strings.TrimSpace(req.Trigger)
	if req.Trigger == "" {
		req.Trigger = "manual"
	}
	symbols := make([]string, 0, len(req.Symbols))
	seen := make(map[string]struct{}, len(req.Symbols))
	for _, s := range req.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	req.Symbols = symbols
	if len(symbols) > 0 && p.fetcher == nil {
		st.Err = fmt.Errorf("market fetcher is nil")
		return st, nil
	}

	coll, err := p.vs.GetOrCreateCollection(ctx, p.vectorDim)
	if err != nil {
		st.Err = fmt.Errorf("prepare collection: %w", err)
		return st, nil
	}
	st.Coll = coll
	return st, nil
}

// collectNode 各交易对并发抓取 + 归一化，随后追加参考文档片段
func (p *IngestPipeline) collectNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}

	symbols := st.Req.Symbols
	perSymbol := make([][]string, len(symbols))
	failed := make([][]string, len(symbols))

	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					zlog.Error("market collect panic", zap.String("symbol", sym), zap.Any("panic", r))
				}
			}()
			results := p.fetcher.Fetch(ctx, sym)
			failed[i] = failedEndpoints(sym, results)
			perSymbol[i] = normalize.Normalize(sym, results, p.now())
		}(i, sym)
	}
	wg.Wait()

	texts := make([]string, 0, len(symbols)*8+len(st.Req.Documents))
	for i := range symbols {
		st.FailedEPs = append(st.FailedEPs, failed[i]...)
		for _, f := range perSymbol[i] {
			if t, ok := p.acceptText(f); ok {
				texts = append(texts, t)
				st.Facts++
			} else {
				st.Skipped++
			}
		}
	}
	for _, d := range st.Req.Documents {
		if t, ok := p.acceptText(d); ok {
			texts = append(texts, t)
			st.Documents++
		} else {
			st.Skipped++
		}
	}
	st.Texts = texts

	if len(st.FailedEPs) > 0 {
		zlog.Warn("market collect partial failure", zap.String("run_id", st.Req.RunID), zap.Strings("failed", st.FailedEPs))
	}
	return st, nil
}

// acceptText 过滤空文本与超出字段上限的文本（超长不截断，直接跳过）
func (p *IngestPipeline) acceptText(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if n := utf8.RuneCountInString(s); n > rag.TextMaxLength {
		zlog.Warn("ingest text skipped: too long", zap.Int("length", n), zap.Int("max", rag.TextMaxLength))
		return "", false
	}
	return s, true
}

func (p *IngestPipeline) dedupNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || len(st.Texts) == 0 {
		return st, nil
	}
	st.NewTexts = p.vs.Dedup(ctx, st.Coll, st.Texts)
	return st, nil
}

func (p *IngestPipeline) embedNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || len(st.NewTexts) == 0 {
		return st, nil
	}

	vecs, err := p.embedWithRetry(ctx, st.NewTexts)
	if err != nil {
		st.Err = fmt.Errorf("embed %d texts: %w", len(st.NewTexts), err)
		return st, nil
	}
	if len(vecs) != len(st.NewTexts) {
		st.Err = fmt.Errorf("%w: texts=%d embeddings=%d", rag.ErrLengthMismatch, len(st.NewTexts), len(vecs))
		return st, nil
	}
	for i, v := range vecs {
		if len(v) != p.vectorDim {
			st.Err = fmt.Errorf("%w: index=%d got=%d want=%d", rag.ErrDimMismatch, i, len(v), p.vectorDim)
			return st, nil
		}
	}
	st.Vectors = vecs
	return st, nil
}

func (p *IngestPipeline) insertNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || len(st.NewTexts) == 0 {
		return st, nil
	}
	n, err := p.vs.Insert(ctx, st.Coll, st.NewTexts, st.Vectors)
	if err != nil {
		st.Err = fmt.Errorf("insert: %w", err)
		return st, nil
	}
	st.Inserted = n
	return st, nil
}

// publishNode 推送失败只记日志，不影响本次入库结果
func (p *IngestPipeline) publishNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || p.feed == nil || st.Inserted == 0 {
		return st, nil
	}
	n, err := p.feed.PublishFacts(ctx, st.Req.RunID, st.NewTexts)
	if err != nil {
		zlog.Warn("fact feed publish failed", zap.String("run_id", st.Req.RunID), zap.Int("published", n), zap.Error(err))
	}
	st.Published = n
	return st, nil
}

func (p *IngestPipeline) finishNode(ctx context.Context, st *ingestState, _ ...any) (*IngestResult, error) {
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}

	res := &IngestResult{
		Facts:      st.Facts,
		Documents:  st.Documents,
		Skipped:    st.Skipped,
		NewTexts:   len(st.NewTexts),
		Inserted:   st.Inserted,
		Published:  st.Published,
		FailedEPs:  st.FailedEPs,
		DurationMs: time.Since(st.Start).Milliseconds(),
	}
	if st.Req != nil {
		res.RunID = st.Req.RunID
		res.Trigger = st.Req.Trigger
		res.Symbols = len(st.Req.Symbols)
	}
	if st.Coll != nil {
		res.Collection = st.Coll.Name
	}

	fields := []zap.Field{
		zap.String("run_id", res.RunID),
		zap.String("trigger", res.Trigger),
		zap.Int("symbols", res.Symbols),
		zap.Int("facts", res.Facts),
		zap.Int("documents", res.Documents),
		zap.Int("new", res.NewTexts),
		zap.Int("inserted", res.Inserted),
		zap.Int("failed_endpoints", len(res.FailedEPs)),
		zap.Int64("ms", res.DurationMs),
	}
	if st.Err != nil {
		res.Error = st.Err.Error()
		res.err = st.Err
		zlog.Error("market ingest failed", append(fields, zap.Error(st.Err))...)
	} else {
		zlog.Info("market ingest done", fields...)
	}
	return res, nil
}

// failedEndpoints 从抓取结果中提取失败端点（symbol/endpoint）
func failedEndpoints(symbol string, results []market.SubResult) []string {
	var out []string
	for _, r := range results {
		if !r.OK() {
			out = append(out, symbol+"/"+string(r.Endpoint))
		}
	}
	return out
}
