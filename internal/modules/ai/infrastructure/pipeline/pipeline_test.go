package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"TradeRAG/internal/modules/ai/domain/market"
	"TradeRAG/internal/modules/ai/domain/rag"
	aiEmbedding "TradeRAG/internal/modules/ai/infrastructure/embedding"
	"TradeRAG/internal/modules/ai/infrastructure/vectordb"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 32

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type stubFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	failing map[string]bool
	price   string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{calls: map[string]int{}, failing: map[string]bool{}, price: "50000"}
}

func (f *stubFetcher) Fetch(ctx context.Context, symbol string) []market.SubResult {
	f.mu.Lock()
	f.calls[symbol]++
	failing := f.failing[symbol]
	price := f.price
	f.mu.Unlock()

	if failing {
		out := make([]market.SubResult, 0, len(market.Endpoints))
		for _, ep := range market.Endpoints {
			out = append(out, market.SubResult{Endpoint: ep, Err: errors.New("connection reset")})
		}
		return out
	}
	return []market.SubResult{
		{Endpoint: market.EndpointTicker24h, Payload: market.Ticker24h{
			Symbol: symbol, LastPrice: price, PriceChangePercent: "1.5",
			HighPrice: "51000", LowPrice: "49000", Volume: "1234", CloseTime: 1700000000000,
		}},
		{Endpoint: market.EndpointDepth, Err: errors.New("timeout")},
		{Endpoint: market.EndpointTrades, Err: errors.New("timeout")},
		{Endpoint: market.EndpointKlines, Payload: market.Klines{Interval: "1h", Rows: []market.Kline{
			{OpenTime: 1699996400000, Open: "100", High: "105", Low: "99", Close: "104", Volume: "10", CloseTime: 1699999999999},
			{OpenTime: 1700000000000, Open: "104", High: "111", Low: "103", Close: "110", Volume: "12", CloseTime: 1700003599999},
		}}},
		{Endpoint: market.EndpointOpenInterest, Payload: market.OpenInterest{Symbol: symbol, OpenInterest: "8000", Time: 1700000000000}},
		{Endpoint: market.EndpointForceOrders, Err: errors.New("401")},
		{Endpoint: market.EndpointLongShortRatio, Payload: market.LongShortRatios{}},
	}
}

type recordingFeed struct {
	mu    sync.Mutex
	facts []string
	err   error
}

func (r *recordingFeed) PublishFacts(ctx context.Context, runID string, facts []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.facts = append(r.facts, facts...)
	return len(facts), nil
}

type flakyEmbedder struct {
	inner    embedding.Embedder
	failures int32
	calls    int32
}

func (f *flakyEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return nil, errors.New("embedding service unavailable")
	}
	return f.inner.EmbedStrings(ctx, texts, opts...)
}

type unreachableStore struct {
	*vectordb.MemoryStore
}

func (unreachableStore) GetOrCreateCollection(ctx context.Context, dim int) (*rag.Collection, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func newTestIngest(t *testing.T, vs *vectordb.MemoryStore, fetcher MarketFetcher, feed FactPublisher, em embedding.Embedder) *IngestPipeline {
	t.Helper()
	if em == nil {
		em = aiEmbedding.NewHashEmbedder(testDim)
	}
	p, err := NewIngestPipeline(vs, em, fetcher, feed, IngestOptions{
		VectorDim:       testDim,
		EmbedRetryTimes: 2,
		EmbedBackoff:    time.Millisecond,
		Now:             func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return p
}

func TestIngestIsIdempotent(t *testing.T) {
	vs := vectordb.NewMemoryStore("trading_collection")
	feed := &recordingFeed{}
	p := newTestIngest(t, vs, newStubFetcher(), feed, nil)
	ctx := context.Background()

	first, err := p.Ingest(ctx, IngestRequest{RunID: "r1", Trigger: "schedule", Symbols: []string{"BTCUSDT", "ETHUSDT"}})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Symbols)
	assert.Equal(t, first.Facts, first.Inserted)
	assert.Positive(t, first.Inserted)
	assert.Equal(t, first.Inserted, first.Published)
	assert.Equal(t, "trading_collection", first.Collection)
	assert.Len(t, first.FailedEPs, 6)
	assert.Empty(t, first.Error)

	second, err := p.Ingest(ctx, IngestRequest{RunID: "r2", Trigger: "schedule", Symbols: []string{"BTCUSDT", "ETHUSDT"}})
	require.NoError(t, err)
	assert.Equal(t, first.Facts, second.Facts)
	assert.Zero(t, second.NewTexts)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, first.Inserted, vs.Len())
	assert.Len(t, feed.facts, first.Inserted)
}

func TestIngestChangedPriceInsertsOnlyChangedFact(t *testing.T) {
	vs := vectordb.NewMemoryStore("")
	fetcher := newStubFetcher()
	p := newTestIngest(t, vs, fetcher, nil, nil)
	ctx := context.Background()

	_, err := p.Ingest(ctx, IngestRequest{Symbols: []string{"BTCUSDT"}})
	require.NoError(t, err)

	fetcher.price = "50001"
	res, err := p.Ingest(ctx, IngestRequest{Symbols: []string{"BTCUSDT"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
}

func TestIngestOneSymbolFailureDoesNotBlockOthers(t *testing.T) {
	vs := vectordb.NewMemoryStore("")
	fetcher := newStubFetcher()
	fetcher.failing["ETHUSDT"] = true
	p := newTestIngest(t, vs, fetcher, nil, nil)

	res, err := p.Ingest(context.Background(), IngestRequest{Symbols: []string{"btcusdt", "ETHUSDT", "BTCUSDT"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Symbols)
	assert.Positive(t, res.Inserted)
	assert.Contains(t, res.FailedEPs, "ETHUSDT/ticker24h")
	assert.Equal(t, 1, fetcher.calls["BTCUSDT"])

	for _, txt := range vs.Search(context.Background(), nil, make([]float64, testDim), 100) {
		assert.True(t, strings.HasPrefix(txt, "BTCUSDT"), txt)
	}
}

func TestIngestDocumentsSkipsOverlongPassages(t *testing.T) {
	vs := vectordb.NewMemoryStore("")
	p := newTestIngest(t, vs, nil, nil, nil)

	res, err := p.Ingest(context.Background(), IngestRequest{
		Trigger:   "docs",
		Documents: []string{"Always size positions by risk.", "  ", strings.Repeat("x", rag.TextMaxLength+1), "Always size positions by risk."},
	})
	require.NoError(t, err)
	assert.Equal(t, "docs", res.Trigger)
	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Inserted)
}

func TestIngestStoreUnreachable(t *testing.T) {
	vs := unreachableStore{vectordb.NewMemoryStore("")}
	fetcher := newStubFetcher()
	p, err := NewIngestPipeline(vs, aiEmbedding.NewHashEmbedder(testDim), fetcher, nil, IngestOptions{VectorDim: testDim})
	require.NoError(t, err)

	res, err := p.Ingest(context.Background(), IngestRequest{Symbols: []string{"BTCUSDT"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Error)
	assert.Zero(t, fetcher.calls["BTCUSDT"])
}

func TestIngestRetriesEmbedding(t *testing.T) {
	vs := vectordb.NewMemoryStore("")
	em := &flakyEmbedder{inner: aiEmbedding.NewHashEmbedder(testDim), failures: 2}
	p := newTestIngest(t, vs, newStubFetcher(), nil, em)

	res, err := p.Ingest(context.Background(), IngestRequest{Symbols: []string{"BTCUSDT"}})
	require.NoError(t, err)
	assert.Positive(t, res.Inserted)
	assert.Equal(t, int32(3), atomic.LoadInt32(&em.calls))
}

func TestIngestEmbeddingExhaustedFails(t *testing.T) {
	vs := vectordb.NewMemoryStore("")
	em := &flakyEmbedder{inner: aiEmbedding.NewHashEmbedder(testDim), failures: 10}
	p := newTestIngest(t, vs, newStubFetcher(), nil, em)

	res, err := p.Ingest(context.Background(), IngestRequest{Symbols: []string{"BTCUSDT"}})
	require.Error(t, err)
	assert.Zero(t, res.Inserted)
	assert.Zero(t, vs.Len())
}

func TestIngestFeedFailureIsNotFatal(t *testing.T) {
	vs := vectordb.NewMemoryStore("")
	feed := &recordingFeed{err: errors.New("broker down")}
	p := newTestIngest(t, vs, newStubFetcher(), feed, nil)

	res, err := p.Ingest(context.Background(), IngestRequest{Symbols: []string{"BTCUSDT"}})
	require.NoError(t, err)
	assert.Positive(t, res.Inserted)
	assert.Zero(t, res.Published)
}

func TestRetrieveReturnsDistinctPassages(t *testing.T) {
	vs := vectordb.NewMemoryStore("")
	em := aiEmbedding.NewHashEmbedder(testDim)
	ingest := newTestIngest(t, vs, newStubFetcher(), nil, em)
	ctx := context.Background()
	_, err := ingest.Ingest(ctx, IngestRequest{Symbols: []string{"BTCUSDT"}, Documents: []string{"Stop losses limit downside."}})
	require.NoError(t, err)

	rp, err := NewRetrievePipeline(vs, em, testDim, 3)
	require.NoError(t, err)

	res, err := rp.Retrieve(ctx, &RetrieveRequest{Query: "  BTCUSDT Spot Price  "})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT Spot Price", res.Query)
	assert.Equal(t, 3, res.TopK)
	assert.LessOrEqual(t, len(res.Passages), 3)
	assert.NotEmpty(t, res.Passages)
	assert.True(t, strings.HasPrefix(res.QueryID, "q_"))

	seen := map[string]bool{}
	for _, p := range res.Passages {
		assert.False(t, seen[p], "duplicate passage %q", p)
		seen[p] = true
	}

	res, err = rp.Retrieve(ctx, &RetrieveRequest{Query: "stop losses", TopK: 1})
	require.NoError(t, err)
	assert.Len(t, res.Passages, 1)
}

func TestRetrieveValidation(t *testing.T) {
	rp, err := NewRetrievePipeline(vectordb.NewMemoryStore(""), aiEmbedding.NewHashEmbedder(testDim), testDim, 3)
	require.NoError(t, err)

	_, err = rp.Retrieve(context.Background(), &RetrieveRequest{Query: "   "})
	assert.Error(t, err)
	_, err = rp.Retrieve(context.Background(), nil)
	assert.Error(t, err)
}

func TestRetrieveDegradesToEmptyWhenStoreUnavailable(t *testing.T) {
	vs := unreachableStore{vectordb.NewMemoryStore("")}
	rp, err := NewRetrievePipeline(vs, aiEmbedding.NewHashEmbedder(testDim), testDim, 3)
	require.NoError(t, err)

	res, err := rp.Retrieve(context.Background(), &RetrieveRequest{Query: "btc"})
	require.NoError(t, err)
	assert.True(t, res.IsEmpty)
	assert.NotNil(t, res.Passages)
	assert.Empty(t, res.Passages)
}

func TestNormalizeTopK(t *testing.T) {
	assert.Equal(t, 3, normalizeTopK(0, 3))
	assert.Equal(t, 7, normalizeTopK(7, 3))
	assert.Equal(t, 50, normalizeTopK(500, 3))
}
