package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"TradeRAG/internal/modules/ai/infrastructure/vectordb"
	"TradeRAG/pkg/util"
	"TradeRAG/pkg/zlog"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

// retrieveState 召回 Pipeline 的中间状态（在节点间传递）
type retrieveState struct {
	Req      *RetrieveRequest
	Passages []string
	Start    time.Time
	SearchMs int64
	Degraded error // 下游失败（降级为空结果，不向调用方返回）
	Err      error // 参数错误
}

// buildGraph 节点顺序：Validate → Retrieve → BuildResult
func (p *RetrievePipeline) buildGraph(ctx context.Context) (compose.Runnable[*RetrieveRequest, *RetrieveResult], error) {
	const (
		Validate    = "Validate"
		Retrieve    = "Retrieve"
		BuildResult = "BuildResult"
	)
	g := compose.NewGraph[*RetrieveRequest, *RetrieveResult]()
	_ = g.AddLambdaNode(Validate, compose.InvokableLambdaWithOption(p.validateNode), compose.WithNodeName(Validate))
	_ = g.AddLambdaNode(Retrieve, compose.InvokableLambdaWithOption(p.retrieveNode), compose.WithNodeName(Retrieve))
	_ = g.AddLambdaNode(BuildResult, compose.InvokableLambdaWithOption(p.buildResultNode), compose.WithNodeName(BuildResult))
	_ = g.AddEdge(compose.START, Validate)
	_ = g.AddEdge(Validate, Retrieve)
	_ = g.AddEdge(Retrieve, BuildResult)
	_ = g.AddEdge(BuildResult, compose.END)
	return g.Compile(ctx, compose.WithGraphName("MarketRetrievePipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

func (p *RetrievePipeline) validateNode(ctx context.Context, req *RetrieveRequest, _ ...any) (*retrieveState, error) {
	st := &retrieveState{Req: req, Start: time.Now()}
	if req == nil {
		st.Err = fmt.Errorf("retrieve request is nil")
		return st, nil
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		st.Err = fmt.Errorf("missing query")
		return st, nil
	}
	req.TopK = normalizeTopK(req.TopK, p.defaultTopK)
	return st, nil
}

func (p *RetrievePipeline) retrieveNode(ctx context.Context, st *retrieveState, _ ...any) (*retrieveState, error) {
	if st == nil {
		return &retrieveState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	start := time.Now()
	defer func() { st.SearchMs = time.Since(start).Milliseconds() }()

	ret, err := p.retrieverFor(ctx)
	if err != nil {
		st.Degraded = fmt.Errorf("collection unavailable: %w", err)
		return st, nil
	}
	docs, err := ret.Retrieve(ctx, st.Req.Query, retriever.WithTopK(st.Req.TopK))
	if err != nil {
		st.Degraded = err
		return st, nil
	}
	st.Passages = vectordb.DocumentTexts(docs)
	return st, nil
}

func (p *RetrievePipeline) buildResultNode(ctx context.Context, st *retrieveState, _ ...any) (*RetrieveResult, error) {
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}
	if st.Err != nil {
		return nil, st.Err
	}

	res := &RetrieveResult{
		QueryID:    "q_" + util.GenerateShortUUID(),
		Query:      st.Req.Query,
		TopK:       st.Req.TopK,
		Passages:   st.Passages,
		SearchMs:   st.SearchMs,
		DurationMs: time.Since(st.Start).Milliseconds(),
	}
	if res.Passages == nil {
		res.Passages = []string{}
	}
	if len(res.Passages) == 0 {
		res.IsEmpty = true
		res.Message = "no matching context in knowledge base"
	}

	fields := []zap.Field{
		zap.String("query_id", res.QueryID),
		zap.String("query", res.Query),
		zap.Int("top_k", res.TopK),
		zap.Int("returned", len(res.Passages)),
		zap.Int64("duration_ms", res.DurationMs),
	}
	if st.Degraded != nil {
		zlog.Warn("ai retrieve degraded", append(fields, zap.Error(st.Degraded))...)
	} else {
		zlog.Info("ai retrieve done", fields...)
	}
	return res, nil
}
