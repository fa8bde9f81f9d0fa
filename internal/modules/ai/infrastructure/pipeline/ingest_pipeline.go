package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeRAG/internal/modules/ai/domain/market"
	"TradeRAG/internal/modules/ai/domain/repository"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/compose"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// MarketFetcher 单个交易对的多端点并发抓取
type MarketFetcher interface {
	Fetch(ctx context.Context, symbol string) []market.SubResult
}

// FactPublisher 新写入事实的下游通知（可选）
type FactPublisher interface {
	PublishFacts(ctx context.Context, runID string, facts []string) (int, error)
}

type IngestRequest struct {
	RunID     string
	Trigger   string   // schedule / manual / docs / startup
	Symbols   []string // 需要抓取行情的交易对
	Documents []string // 已切好的参考文档片段
}

type IngestResult struct {
	RunID      string   `json:"run_id"`
	Trigger    string   `json:"trigger"`
	Collection string   `json:"collection"`
	Symbols    int      `json:"symbols"`
	Facts      int      `json:"facts"`
	Documents  int      `json:"documents"`
	Skipped    int      `json:"skipped"`
	NewTexts   int      `json:"new_texts"`
	Inserted   int      `json:"inserted"`
	Published  int      `json:"published"`
	FailedEPs  []string `json:"failed_endpoints,omitempty"`
	DurationMs int64    `json:"duration_ms"`
	Error      string   `json:"error,omitempty"`

	err error
}

type IngestOptions struct {
	VectorDim       int
	EmbedRetryTimes int
	EmbedBackoff    time.Duration
	Now             func() time.Time
}

type IngestPipeline struct {
	vs       repository.VectorStore
	embedder embedding.Embedder
	fetcher  MarketFetcher
	feed     FactPublisher

	vectorDim   int
	embedPolicy retrypolicy.RetryPolicy[[][]float64]
	now         func() time.Time

	r compose.Runnable[*IngestRequest, *IngestResult]
}

// NewIngestPipeline feed 可以为 nil（不推送 Kafka）
func NewIngestPipeline(vs repository.VectorStore, embedder embedding.Embedder, fetcher MarketFetcher, feed FactPublisher, opts IngestOptions) (*IngestPipeline, error) {
	if vs == nil {
		return nil, fmt.Errorf("vector store is nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if opts.VectorDim <= 0 {
		return nil, fmt.Errorf("invalid vector dim: %d", opts.VectorDim)
	}
	if opts.EmbedRetryTimes < 0 {
		opts.EmbedRetryTimes = 0
	}
	if opts.EmbedBackoff <= 0 {
		opts.EmbedBackoff = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := &IngestPipeline{
		vs:        vs,
		embedder:  embedder,
		fetcher:   fetcher,
		feed:      feed,
		vectorDim: opts.VectorDim,
		now:       opts.Now,
		embedPolicy: retrypolicy.Builder[[][]float64]().
			HandleIf(func(_ [][]float64, err error) bool {
				return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}).
			WithBackoff(opts.EmbedBackoff, 10*opts.EmbedBackoff).
			WithMaxRetries(opts.EmbedRetryTimes).
			Build(),
	}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Ingest 失败时仍返回已统计的结果，便于记录运行历史
func (p *IngestPipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	res, err := p.r.Invoke(ctx, &req)
	if err != nil {
		return nil, err
	}
	return res, res.err
}

// embedWithRetry 整批 embedding，失败按策略重试
func (p *IngestPipeline) embedWithRetry(ctx context.Context, texts []string) ([][]float64, error) {
	return failsafe.Get(func() ([][]float64, error) {
		return p.embedder.EmbedStrings(ctx, texts)
	}, p.embedPolicy)
}
