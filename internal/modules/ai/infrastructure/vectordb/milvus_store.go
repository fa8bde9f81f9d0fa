package vectordb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"TradeRAG/internal/modules/ai/domain/rag"
	"TradeRAG/internal/modules/ai/domain/repository"
	"TradeRAG/pkg/zlog"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

const (
	FieldID        = "id"
	FieldEmbedding = "embedding"
	FieldText      = "text"

	existingExpr = "id > 0"
)

// MilvusAPI 本包用到的 Milvus SDK 方法子集，mclient.Client 直接满足
type MilvusAPI interface {
	HasCollection(ctx context.Context, collName string) (bool, error)
	DescribeCollection(ctx context.Context, collName string) (*entity.Collection, error)
	CreateCollection(ctx context.Context, schema *entity.Schema, shardsNum int32, opts ...mclient.CreateCollectionOption) error
	DropCollection(ctx context.Context, collName string, opts ...mclient.DropCollectionOption) error
	LoadCollection(ctx context.Context, collName string, async bool, opts ...mclient.LoadCollectionOption) error
	ReleaseCollection(ctx context.Context, collName string, opts ...mclient.ReleaseCollectionOption) error
	CreateIndex(ctx context.Context, collName string, fieldName string, idx entity.Index, async bool, opts ...mclient.IndexOption) error
	DescribeIndex(ctx context.Context, collName string, fieldName string, opts ...mclient.IndexOption) ([]entity.Index, error)
	DropIndex(ctx context.Context, collName string, fieldName string, opts ...mclient.IndexOption) error
	Insert(ctx context.Context, collName string, partitionName string, columns ...entity.Column) (entity.Column, error)
	Flush(ctx context.Context, collName string, async bool, opts ...mclient.FlushOption) error
	Query(ctx context.Context, collectionName string, partitionNames []string, expr string, outputFields []string, opts ...mclient.SearchQueryOptionFunc) (mclient.ResultSet, error)
	Search(ctx context.Context, collName string, partitions []string, expr string, outputFields []string, vectors []entity.Vector, vectorField string, metricType entity.MetricType, topK int, sp entity.SearchParam, opts ...mclient.SearchQueryOptionFunc) ([]mclient.SearchResult, error)
}

var _ MilvusAPI = (mclient.Client)(nil)

type StoreConfig struct {
	Collection    string
	IndexType     string // IVF_FLAT / FLAT / HNSW / AUTOINDEX
	MetricType    string // L2 / IP / COSINE
	NList         int
	NProbe        int
	DedupPageSize int
	DedupMaxScan  int
}

// MilvusStore 向量库网关：集合生命周期、去重、写入与检索。
type MilvusStore struct {
	cli         MilvusAPI
	cfg         StoreConfig
	metricType  entity.MetricType
	searchParam entity.SearchParam

	// 串行化集合的创建/校验/重建
	lifecycleMu sync.Mutex
}

var _ repository.VectorStore = (*MilvusStore)(nil)

func NewMilvusStore(cli MilvusAPI, cfg StoreConfig) (*MilvusStore, error) {
	if cli == nil {
		return nil, errors.New("milvus client is nil")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, errors.New("collection is empty")
	}
	cfg.IndexType = strings.ToUpper(strings.TrimSpace(cfg.IndexType))
	if cfg.IndexType == "" {
		cfg.IndexType = "IVF_FLAT"
	}
	if cfg.NList <= 0 {
		cfg.NList = 128
	}
	if cfg.NProbe <= 0 {
		cfg.NProbe = 10
	}
	if cfg.DedupPageSize <= 0 {
		cfg.DedupPageSize = 1000
	}
	if cfg.DedupMaxScan <= 0 {
		cfg.DedupMaxScan = 16384
	}
	metric, err := parseMetricType(cfg.MetricType)
	if err != nil {
		return nil, err
	}
	cfg.MetricType = string(metric)
	sp, err := newSearchParam(cfg.IndexType, cfg.NProbe)
	if err != nil {
		return nil, err
	}
	return &MilvusStore{cli: cli, cfg: cfg, metricType: metric, searchParam: sp}, nil
}

// GetOrCreateCollection 不存在则建集合并立即建索引；存在则校验向量字段与维度，
// 不符时 drop 后重建（数据丢弃可接受）。最终确保索引存在并加载。
func (s *MilvusStore) GetOrCreateCollection(ctx context.Context, dim int) (*rag.Collection, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid vector dim: %d", dim)
	}
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	name := s.cfg.Collection
	coll := &rag.Collection{Name: name, Dim: dim, IndexType: s.cfg.IndexType, MetricType: s.cfg.MetricType, State: rag.CollectionAbsent}

	exists, err := s.cli.HasCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("milvus has collection %s: %w", name, err)
	}

	if exists {
		desc, err := s.cli.DescribeCollection(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("milvus describe collection %s: %w", name, err)
		}
		var schema *entity.Schema
		if desc != nil {
			schema = desc.Schema
		}
		if verr := validateSchema(schema, dim); verr != nil {
			zlog.Warn("milvus collection schema invalid, dropping and recreating",
				zap.String("collection", name), zap.Int("dim", dim), zap.Error(verr))
			if err := s.cli.DropCollection(ctx, name); err != nil {
				return nil, fmt.Errorf("milvus drop collection %s: %w", name, err)
			}
			exists = false
			coll.Recreated = true
		}
	}

	if !exists {
		coll.State = rag.CollectionCreating
		if err := s.cli.CreateCollection(ctx, buildSchema(name, dim), entity.DefaultShardNumber); err != nil {
			return nil, fmt.Errorf("milvus create collection %s: %w", name, err)
		}
		zlog.Info("milvus collection created", zap.String("collection", name), zap.Int("dim", dim))
	}

	if err := s.ensureIndex(ctx, name); err != nil {
		return nil, err
	}
	coll.State = rag.CollectionIndexed

	if err := s.cli.LoadCollection(ctx, name, false); err != nil {
		return nil, fmt.Errorf("milvus load collection %s: %w", name, err)
	}
	coll.State = rag.CollectionLoaded
	zlog.Info("milvus collection ready", zap.String("collection", name), zap.Int("dim", dim),
		zap.String("index", s.cfg.IndexType), zap.String("metric", s.cfg.MetricType), zap.Bool("recreated", coll.Recreated))
	return coll, nil
}

// ensureIndex 索引缺失则创建；已有索引的度量与配置不符时先释放再删除重建，
// 否则检索会按错误的度量执行。
func (s *MilvusStore) ensureIndex(ctx context.Context, name string) error {
	idxs, err := s.cli.DescribeIndex(ctx, name, FieldEmbedding)
	if err == nil && len(idxs) > 0 {
		got := indexMetric(idxs[0])
		if got == "" || strings.EqualFold(got, s.cfg.MetricType) {
			return nil
		}
		zlog.Warn("milvus index metric mismatch, rebuilding index",
			zap.String("collection", name), zap.String("index_metric", got), zap.String("want_metric", s.cfg.MetricType))
		if err := s.cli.ReleaseCollection(ctx, name); err != nil {
			return fmt.Errorf("milvus release collection %s: %w", name, err)
		}
		if err := s.cli.DropIndex(ctx, name, FieldEmbedding); err != nil {
			return fmt.Errorf("milvus drop index %s: %w", name, err)
		}
	}
	idx, err := newIndex(s.cfg.IndexType, s.metricType, s.cfg.NList)
	if err != nil {
		return err
	}
	if err := s.cli.CreateIndex(ctx, name, FieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("milvus create index %s: %w", name, err)
	}
	zlog.Info("milvus index created", zap.String("collection", name),
		zap.String("index", s.cfg.IndexType), zap.String("metric", s.cfg.MetricType))
	return nil
}

// Dedup 线性扫描已有文本（受 DedupMaxScan 限制），返回未出现过的候选，保持输入顺序。
// 批内重复同样折叠。读取失败时放行全部候选，重复写入由检索端去重兜底。
func (s *MilvusStore) Dedup(ctx context.Context, coll *rag.Collection, candidates []string) []string {
	if len(candidates) == 0 {
		return []string{}
	}
	existing, err := s.existingTexts(ctx, coll)
	if err != nil {
		zlog.Warn("milvus dedup read failed, treating all candidates as new",
			zap.String("collection", collName(coll, s.cfg.Collection)), zap.Int("candidates", len(candidates)), zap.Error(err))
		existing = map[string]struct{}{}
	}

	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := existing[c]; ok {
			continue
		}
		existing[c] = struct{}{}
		out = append(out, c)
	}
	zlog.Info("milvus dedup done", zap.Int("existing", len(existing)-len(out)), zap.Int("candidates", len(candidates)), zap.Int("new", len(out)))
	return out
}

func (s *MilvusStore) existingTexts(ctx context.Context, coll *rag.Collection) (map[string]struct{}, error) {
	name := collName(coll, s.cfg.Collection)
	if err := s.cli.LoadCollection(ctx, name, false); err != nil {
		return nil, err
	}

	texts := make(map[string]struct{})
	page := s.cfg.DedupPageSize
	for offset := 0; offset < s.cfg.DedupMaxScan; offset += page {
		limit := page
		if offset+limit > s.cfg.DedupMaxScan {
			limit = s.cfg.DedupMaxScan - offset
		}
		rs, err := s.cli.Query(ctx, name, nil, existingExpr, []string{FieldText},
			mclient.WithOffset(int64(offset)),
			mclient.WithLimit(int64(limit)),
			mclient.WithSearchQueryConsistencyLevel(entity.ClStrong),
		)
		if err != nil {
			return nil, err
		}
		col := columnByName(rs, FieldText)
		if col == nil {
			return nil, fmt.Errorf("query result missing %s column", FieldText)
		}
		n := col.Len()
		for i := 0; i < n; i++ {
			v, err := col.GetAsString(i)
			if err != nil {
				return nil, err
			}
			texts[v] = struct{}{}
		}
		if n < limit {
			return texts, nil
		}
	}
	zlog.Warn("milvus dedup scan hit limit", zap.String("collection", name), zap.Int("max_scan", s.cfg.DedupMaxScan))
	return texts, nil
}

// Insert 空输入直接返回 0；写入后强制 flush。
func (s *MilvusStore) Insert(ctx context.Context, coll *rag.Collection, texts []string, embeddings [][]float64) (int, error) {
	return InsertVectors(ctx, s, coll, texts, embeddings)
}

// InsertVectors 接受任意数值类型的向量，统一转为 []float32 后写入
func InsertVectors[T rag.Number](ctx context.Context, s *MilvusStore, coll *rag.Collection, texts []string, embeddings [][]T) (int, error) {
	if len(texts) == 0 || len(embeddings) == 0 {
		return 0, nil
	}
	if coll == nil {
		return 0, errors.New("collection is nil")
	}
	if len(texts) != len(embeddings) {
		return 0, fmt.Errorf("%w: texts=%d embeddings=%d", rag.ErrLengthMismatch, len(texts), len(embeddings))
	}

	vectors := make([][]float32, 0, len(embeddings))
	for i := range texts {
		if n := utf8.RuneCountInString(texts[i]); n > rag.TextMaxLength {
			return 0, fmt.Errorf("%w: index=%d length=%d max=%d", rag.ErrTextTooLong, i, n, rag.TextMaxLength)
		}
		if len(embeddings[i]) != coll.Dim {
			return 0, fmt.Errorf("%w: index=%d got=%d want=%d", rag.ErrDimMismatch, i, len(embeddings[i]), coll.Dim)
		}
		vectors = append(vectors, rag.ToFloat32(embeddings[i]))
	}

	ids, err := s.cli.Insert(ctx, coll.Name, "",
		entity.NewColumnFloatVector(FieldEmbedding, coll.Dim, vectors),
		entity.NewColumnVarChar(FieldText, texts),
	)
	if err != nil {
		return 0, fmt.Errorf("milvus insert %s: %w", coll.Name, err)
	}
	if err := s.cli.Flush(ctx, coll.Name, false); err != nil {
		return 0, fmt.Errorf("milvus flush %s: %w", coll.Name, err)
	}

	count := len(texts)
	if ids != nil {
		count = ids.Len()
	}
	zlog.Info("milvus insert done", zap.String("collection", coll.Name), zap.Int("inserted", count))
	return count, nil
}

// Search k 近邻检索，只返回文本；重复文本保留首次（最近）出现的位置。任何失败都返回空切片。
func (s *MilvusStore) Search(ctx context.Context, coll *rag.Collection, query []float64, k int) []string {
	out := []string{}
	if coll == nil || k <= 0 {
		return out
	}
	if len(query) != coll.Dim {
		zlog.Warn("milvus search skipped", zap.Error(fmt.Errorf("%w: got=%d want=%d", rag.ErrDimMismatch, len(query), coll.Dim)))
		return out
	}
	if err := s.cli.LoadCollection(ctx, coll.Name, false); err != nil {
		zlog.Warn("milvus search load failed", zap.String("collection", coll.Name), zap.Error(err))
		return out
	}

	res, err := s.cli.Search(
		ctx,
		coll.Name,
		[]string{},
		"",
		[]string{FieldText},
		[]entity.Vector{entity.FloatVector(rag.ToFloat32(query))},
		FieldEmbedding,
		s.metricType,
		k,
		s.searchParam,
	)
	if err != nil {
		zlog.Warn("milvus search failed", zap.String("collection", coll.Name), zap.Error(err))
		return out
	}
	if len(res) == 0 {
		return out
	}
	sr := res[0]
	if sr.Err != nil {
		zlog.Warn("milvus search result error", zap.String("collection", coll.Name), zap.Error(sr.Err))
		return out
	}
	textCol := columnByName(sr.Fields, FieldText)
	if textCol == nil {
		zlog.Warn("milvus search result missing text column", zap.String("collection", coll.Name))
		return out
	}

	return distinctTexts(textCol, sr.ResultCount, k)
}

func distinctTexts(col entity.Column, count, k int) []string {
	if count > col.Len() {
		count = col.Len()
	}
	out := make([]string, 0, k)
	seen := make(map[string]struct{}, count)
	for i := 0; i < count && len(out) < k; i++ {
		v, err := col.GetAsString(i)
		if err != nil {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func buildSchema(name string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "Trading knowledge base: market facts and reference documents",
		AutoID:         true,
		Fields: []*entity.Field{
			{
				Name:       FieldID,
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     true,
			},
			{
				Name:       FieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{entity.TypeParamDim: strconv.Itoa(dim)},
			},
			{
				Name:       FieldText,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{entity.TypeParamMaxLength: strconv.Itoa(rag.TextMaxLength)},
			},
		},
	}
}

// validateSchema 向量字段必须存在且维度一致，text 字段必须存在
func validateSchema(schema *entity.Schema, dim int) error {
	if schema == nil {
		return fmt.Errorf("%w: missing schema", rag.ErrSchemaInvalid)
	}
	var vec, text *entity.Field
	for _, f := range schema.Fields {
		if f == nil {
			continue
		}
		switch f.Name {
		case FieldEmbedding:
			vec = f
		case FieldText:
			text = f
		}
	}
	if vec == nil || vec.DataType != entity.FieldTypeFloatVector {
		return fmt.Errorf("%w: missing float vector field %q", rag.ErrSchemaInvalid, FieldEmbedding)
	}
	got, err := strconv.Atoi(vec.TypeParams[entity.TypeParamDim])
	if err != nil {
		return fmt.Errorf("%w: unreadable dim %q", rag.ErrSchemaInvalid, vec.TypeParams[entity.TypeParamDim])
	}
	if got != dim {
		return fmt.Errorf("%w: %w got=%d want=%d", rag.ErrSchemaInvalid, rag.ErrDimMismatch, got, dim)
	}
	if text == nil || text.DataType != entity.FieldTypeVarChar {
		return fmt.Errorf("%w: missing varchar field %q", rag.ErrSchemaInvalid, FieldText)
	}
	return nil
}

func parseMetricType(s string) (entity.MetricType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "L2":
		return entity.L2, nil
	case "IP":
		return entity.IP, nil
	case "COSINE":
		return entity.COSINE, nil
	default:
		return "", fmt.Errorf("unsupported metric type: %s", s)
	}
}

// indexMetric 读取索引参数中的 metric_type，未上报时返回空串
func indexMetric(idx entity.Index) string {
	if idx == nil {
		return ""
	}
	return strings.TrimSpace(idx.Params()["metric_type"])
}

func newIndex(indexType string, metric entity.MetricType, nlist int) (entity.Index, error) {
	switch indexType {
	case "IVF_FLAT":
		return entity.NewIndexIvfFlat(metric, nlist)
	case "FLAT":
		return entity.NewIndexFlat(metric)
	case "HNSW":
		return entity.NewIndexHNSW(metric, 16, 200)
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEX(metric)
	default:
		return nil, fmt.Errorf("unsupported index type: %s", indexType)
	}
}

func newSearchParam(indexType string, nprobe int) (entity.SearchParam, error) {
	switch indexType {
	case "IVF_FLAT":
		return entity.NewIndexIvfFlatSearchParam(nprobe)
	case "FLAT":
		return entity.NewIndexFlatSearchParam()
	case "HNSW":
		return entity.NewIndexHNSWSearchParam(64)
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEXSearchParam(1)
	default:
		return nil, fmt.Errorf("unsupported index type: %s", indexType)
	}
}

func columnByName(cols mclient.ResultSet, name string) entity.Column {
	for _, c := range cols {
		if c != nil && c.Name() == name {
			return c
		}
	}
	return nil
}

func collName(coll *rag.Collection, fallback string) string {
	if coll != nil && coll.Name != "" {
		return coll.Name
	}
	return fallback
}
