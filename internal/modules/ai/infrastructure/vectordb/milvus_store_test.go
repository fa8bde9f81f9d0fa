package vectordb

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"

	"TradeRAG/internal/modules/ai/domain/rag"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	id   int64
	vec  []float32
	text string
}

// fakeMilvus 内存版 Milvus，只实现 MilvusAPI 用到的语义
type fakeMilvus struct {
	mu      sync.Mutex
	schema  *entity.Schema
	indexed bool
	metric  string
	loaded  bool
	rows    []fakeRow
	nextID  int64

	dropped      int
	created      int
	indexDropped int
	flushed  int
	queryErr error
	searchFn func() ([]mclient.SearchResult, error)
	hasErr   error
}

func newFakeMilvus() *fakeMilvus { return &fakeMilvus{nextID: 1} }

func (f *fakeMilvus) HasCollection(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasErr != nil {
		return false, f.hasErr
	}
	return f.schema != nil, nil
}

func (f *fakeMilvus) DescribeCollection(ctx context.Context, name string) (*entity.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schema == nil {
		return nil, errors.New("collection not found")
	}
	return &entity.Collection{Name: name, Schema: f.schema}, nil
}

func (f *fakeMilvus) CreateCollection(ctx context.Context, schema *entity.Schema, shards int32, opts ...mclient.CreateCollectionOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schema = schema
	f.created++
	return nil
}

func (f *fakeMilvus) DropCollection(ctx context.Context, name string, opts ...mclient.DropCollectionOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schema = nil
	f.indexed = false
	f.metric = ""
	f.loaded = false
	f.rows = nil
	f.dropped++
	return nil
}

func (f *fakeMilvus) LoadCollection(ctx context.Context, name string, async bool, opts ...mclient.LoadCollectionOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schema == nil {
		return errors.New("collection not found")
	}
	if !f.indexed {
		return errors.New("index not found")
	}
	f.loaded = true
	return nil
}

func (f *fakeMilvus) CreateIndex(ctx context.Context, name, field string, idx entity.Index, async bool, opts ...mclient.IndexOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = true
	f.metric = idx.Params()["metric_type"]
	return nil
}

// DescribeIndex 与真实 SDK 一样返回 GenericIndex，参数里带 metric_type
func (f *fakeMilvus) DescribeIndex(ctx context.Context, name, field string, opts ...mclient.IndexOption) ([]entity.Index, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.indexed {
		return nil, errors.New("index not found")
	}
	idx := entity.NewGenericIndex(field, entity.Flat, map[string]string{
		"index_type":  string(entity.Flat),
		"metric_type": f.metric,
	})
	return []entity.Index{idx}, nil
}

func (f *fakeMilvus) DropIndex(ctx context.Context, name, field string, opts ...mclient.IndexOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loaded {
		return errors.New("index cannot be dropped on loaded collection")
	}
	f.indexed = false
	f.metric = ""
	f.indexDropped++
	return nil
}

func (f *fakeMilvus) ReleaseCollection(ctx context.Context, name string, opts ...mclient.ReleaseCollectionOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = false
	return nil
}

func (f *fakeMilvus) Insert(ctx context.Context, name, partition string, cols ...entity.Column) (entity.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var vecs [][]float32
	var texts []string
	for _, c := range cols {
		switch col := c.(type) {
		case *entity.ColumnFloatVector:
			vecs = col.Data()
		case *entity.ColumnVarChar:
			texts = col.Data()
		}
	}
	ids := make([]int64, 0, len(texts))
	for i := range texts {
		f.rows = append(f.rows, fakeRow{id: f.nextID, vec: vecs[i], text: texts[i]})
		ids = append(ids, f.nextID)
		f.nextID++
	}
	return entity.NewColumnInt64(FieldID, ids), nil
}

func (f *fakeMilvus) Flush(ctx context.Context, name string, async bool, opts ...mclient.FlushOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return nil
}

func (f *fakeMilvus) Query(ctx context.Context, name string, partitions []string, expr string, fields []string, opts ...mclient.SearchQueryOptionFunc) (mclient.ResultSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	opt := &mclient.SearchQueryOption{}
	for _, o := range opts {
		o(opt)
	}
	start := int(opt.Offset)
	end := start + int(opt.Limit)
	if start > len(f.rows) {
		start = len(f.rows)
	}
	if end > len(f.rows) || opt.Limit == 0 {
		end = len(f.rows)
	}
	texts := make([]string, 0, end-start)
	for _, r := range f.rows[start:end] {
		texts = append(texts, r.text)
	}
	return mclient.ResultSet{entity.NewColumnVarChar(FieldText, texts)}, nil
}

func (f *fakeMilvus) Search(ctx context.Context, name string, partitions []string, expr string, fields []string, vectors []entity.Vector, vectorField string, metric entity.MetricType, topK int, sp entity.SearchParam, opts ...mclient.SearchQueryOptionFunc) ([]mclient.SearchResult, error) {
	if f.searchFn != nil {
		return f.searchFn()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	q := vectors[0].(entity.FloatVector)
	rows := append([]fakeRow(nil), f.rows...)
	sort.SliceStable(rows, func(i, j int) bool { return l2(rows[i].vec, q) < l2(rows[j].vec, q) })
	if len(rows) > topK {
		rows = rows[:topK]
	}
	texts := make([]string, 0, len(rows))
	for _, r := range rows {
		texts = append(texts, r.text)
	}
	return []mclient.SearchResult{{
		ResultCount: len(texts),
		Fields:      mclient.ResultSet{entity.NewColumnVarChar(FieldText, texts)},
	}}, nil
}

func l2(a, b []float32) float32 {
	var s float32
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func newTestStore(t *testing.T, cli MilvusAPI) *MilvusStore {
	t.Helper()
	s, err := NewMilvusStore(cli, StoreConfig{Collection: "trading_collection", DedupPageSize: 2, DedupMaxScan: 100})
	require.NoError(t, err)
	return s
}

func vec(dim int, v float64) []float64 {
	out := make([]float64, dim)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestGetOrCreateCollectionCreatesIndexesAndLoads(t *testing.T) {
	fake := newFakeMilvus()
	s := newTestStore(t, fake)

	coll, err := s.GetOrCreateCollection(context.Background(), 4)
	require.NoError(t, err)

	assert.Equal(t, rag.CollectionLoaded, coll.State)
	assert.Equal(t, 4, coll.Dim)
	assert.Equal(t, "IVF_FLAT", coll.IndexType)
	assert.Equal(t, "L2", coll.MetricType)
	assert.False(t, coll.Recreated)
	assert.True(t, fake.indexed)
	assert.True(t, fake.loaded)
	assert.Equal(t, 1, fake.created)

	require.NoError(t, validateSchema(fake.schema, 4))
	assert.Equal(t, strconv.Itoa(rag.TextMaxLength), fake.schema.Fields[2].TypeParams[entity.TypeParamMaxLength])
}

func TestGetOrCreateCollectionKeepsMatchingCollection(t *testing.T) {
	fake := newFakeMilvus()
	s := newTestStore(t, fake)
	ctx := context.Background()

	coll, err := s.GetOrCreateCollection(ctx, 4)
	require.NoError(t, err)
	_, err = s.Insert(ctx, coll, []string{"a"}, [][]float64{vec(4, 1)})
	require.NoError(t, err)

	again, err := s.GetOrCreateCollection(ctx, 4)
	require.NoError(t, err)
	assert.False(t, again.Recreated)
	assert.Equal(t, 0, fake.dropped)
	assert.Equal(t, 0, fake.indexDropped)
	assert.Len(t, fake.rows, 1)
}

func TestGetOrCreateCollectionRebuildsIndexOnMetricChange(t *testing.T) {
	fake := newFakeMilvus()
	ctx := context.Background()

	l2 := newTestStore(t, fake)
	coll, err := l2.GetOrCreateCollection(ctx, 4)
	require.NoError(t, err)
	_, err = l2.Insert(ctx, coll, []string{"kept"}, [][]float64{vec(4, 1)})
	require.NoError(t, err)
	assert.Equal(t, "L2", fake.metric)

	ip, err := NewMilvusStore(fake, StoreConfig{Collection: "trading_collection", MetricType: "IP"})
	require.NoError(t, err)
	coll, err = ip.GetOrCreateCollection(ctx, 4)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.indexDropped)
	assert.Equal(t, "IP", fake.metric)
	assert.True(t, fake.loaded)
	assert.Equal(t, rag.CollectionLoaded, coll.State)
	// 只重建索引，集合与数据保留
	assert.False(t, coll.Recreated)
	assert.Equal(t, 0, fake.dropped)
	assert.Len(t, fake.rows, 1)
}

func TestGetOrCreateCollectionRecreatesOnDimMismatch(t *testing.T) {
	fake := newFakeMilvus()
	s := newTestStore(t, fake)
	ctx := context.Background()

	coll, err := s.GetOrCreateCollection(ctx, 4)
	require.NoError(t, err)
	_, err = s.Insert(ctx, coll, []string{"old"}, [][]float64{vec(4, 1)})
	require.NoError(t, err)

	coll, err = s.GetOrCreateCollection(ctx, 8)
	require.NoError(t, err)
	assert.True(t, coll.Recreated)
	assert.Equal(t, 1, fake.dropped)
	assert.Empty(t, fake.rows)
	assert.NoError(t, validateSchema(fake.schema, 8))
}

func TestGetOrCreateCollectionRecreatesWithoutVectorField(t *testing.T) {
	fake := newFakeMilvus()
	fake.schema = &entity.Schema{Fields: []*entity.Field{{Name: FieldID, DataType: entity.FieldTypeInt64, PrimaryKey: true}}}
	s := newTestStore(t, fake)

	coll, err := s.GetOrCreateCollection(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, coll.Recreated)
	assert.NoError(t, validateSchema(fake.schema, 4))
}

func TestGetOrCreateCollectionPropagatesUnreachable(t *testing.T) {
	fake := newFakeMilvus()
	fake.hasErr = errors.New("connection refused")
	s := newTestStore(t, fake)

	_, err := s.GetOrCreateCollection(context.Background(), 4)
	assert.ErrorContains(t, err, "connection refused")
}

func TestDedupOneCharacterDifference(t *testing.T) {
	fake := newFakeMilvus()
	s := newTestStore(t, fake)
	ctx := context.Background()

	coll, err := s.GetOrCreateCollection(ctx, 4)
	require.NoError(t, err)
	stored := "BTCUSDT Spot Price: $50000.00"
	_, err = s.Insert(ctx, coll, []string{stored}, [][]float64{vec(4, 1)})
	require.NoError(t, err)

	assert.Empty(t, s.Dedup(ctx, coll, []string{stored}))
	assert.Equal(t, []string{"BTCUSDT Spot Price: $50000.01"}, s.Dedup(ctx, coll, []string{"BTCUSDT Spot Price: $50000.01"}))
}

func TestDedupPagesThroughExistingTexts(t *testing.T) {
	fake := newFakeMilvus()
	s := newTestStore(t, fake)
	ctx := context.Background()

	coll, err := s.GetOrCreateCollection(ctx, 2)
	require.NoError(t, err)
	texts := []string{"a", "b", "c", "d", "e"}
	embs := make([][]float64, len(texts))
	for i := range embs {
		embs[i] = vec(2, float64(i))
	}
	_, err = s.Insert(ctx, coll, texts, embs)
	require.NoError(t, err)

	got := s.Dedup(ctx, coll, []string{"e", "f", "a", "f", "g"})
	assert.Equal(t, []string{"f", "g"}, got)
}

func TestDedupFailsOpen(t *testing.T) {
	fake := newFakeMilvus()
	s := newTestStore(t, fake)
	ctx := context.Background()

	coll, err := s.GetOrCreateCollection(ctx, 2)
	require.NoError(t, err)
	fake.queryErr = errors.New("query timeout")

	got := s.Dedup(ctx, coll, []string{"x", "y", "x"})
	assert.Equal(t, []string{"x", "y"}, got)
}

func TestInsertValidation(t *testing.T) {
	fake := newFakeMilvus()
	s := newTestStore(t, fake)
	ctx := context.Background()

	coll, err := s.GetOrCreateCollection(ctx, 4)
	require.NoError(t, err)

	n, err := s.Insert(ctx, coll, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, fake.flushed)

	_, err = s.Insert(ctx, coll, []string{"a", "b"}, [][]float64{vec(4, 1)})
	assert.ErrorIs(t, err, rag.ErrLengthMismatch)

	_, err = s.Insert(ctx, coll, []string{"a"}, [][]float64{vec(3, 1)})
	assert.ErrorIs(t, err, rag.ErrDimMismatch)

	long := make([]rune, rag.TextMaxLength+1)
	for i := range long {
		long[i] = '字'
	}
	_, err = s.Insert(ctx, coll, []string{string(long)}, [][]float64{vec(4, 1)})
	assert.ErrorIs(t, err, rag.ErrTextTooLong)
	assert.Empty(t, fake.rows)

	n, err = s.Insert(ctx, coll, []string{"ok"}, [][]float64{vec(4, 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, fake.flushed)
}

func TestInsertVectorsAcceptsFloat32(t *testing.T) {
	fake := newFakeMilvus()
	s := newTestStore(t, fake)
	ctx := context.Background()

	coll, err := s.GetOrCreateCollection(ctx, 2)
	require.NoError(t, err)

	n, err := InsertVectors(ctx, s, coll, []string{"f32"}, [][]float32{{0.5, 0.25}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []float32{0.5, 0.25}, fake.rows[0].vec)
}

func TestSearchCollapsesDuplicatesAndCapsK(t *testing.T) {
	fake := newFakeMilvus()
	s := newTestStore(t, fake)
	ctx := context.Background()

	coll, err := s.GetOrCreateCollection(ctx, 2)
	require.NoError(t, err)
	_, err = s.Insert(ctx, coll,
		[]string{"near", "near", "mid", "far", "farther"},
		[][]float64{{0, 0}, {0, 0.1}, {1, 1}, {2, 2}, {3, 3}},
	)
	require.NoError(t, err)

	got := s.Search(ctx, coll, []float64{0, 0}, 3)
	assert.Equal(t, []string{"near", "mid"}, got)

	got = s.Search(ctx, coll, []float64{0, 0}, 10)
	assert.Equal(t, []string{"near", "mid", "far", "farther"}, got)
	assert.LessOrEqual(t, len(s.Search(ctx, coll, []float64{0, 0}, 1)), 1)
}

func TestSearchReturnsEmptyOnFailure(t *testing.T) {
	fake := newFakeMilvus()
	s := newTestStore(t, fake)
	ctx := context.Background()

	coll, err := s.GetOrCreateCollection(ctx, 2)
	require.NoError(t, err)

	fake.searchFn = func() ([]mclient.SearchResult, error) { return nil, errors.New("search failed") }
	got := s.Search(ctx, coll, []float64{0, 0}, 3)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	fake.searchFn = nil
	assert.Empty(t, s.Search(ctx, coll, []float64{0, 0, 0}, 3))
	assert.Empty(t, s.Search(ctx, coll, []float64{0, 0}, 0))
}

func TestNewMilvusStoreRejectsUnknownMetric(t *testing.T) {
	_, err := NewMilvusStore(newFakeMilvus(), StoreConfig{Collection: "c", MetricType: "HAMMING"})
	assert.Error(t, err)

	_, err = NewMilvusStore(newFakeMilvus(), StoreConfig{Collection: "c", IndexType: "DISKANN"})
	assert.Error(t, err)
}
