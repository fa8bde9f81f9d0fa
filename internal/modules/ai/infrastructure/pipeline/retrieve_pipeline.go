package pipeline

import (
	"context"
	"fmt"
	"sync"

	"TradeRAG/internal/modules/ai/domain/repository"
	"TradeRAG/internal/modules/ai/infrastructure/vectordb"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/compose"
)

// RetrieveRequest 召回 Pipeline 的输入请求
type RetrieveRequest struct {
	Query string // 用户问题（必填）
	TopK  int    // 返回条数（默认取配置，范围 1-50）
}

// RetrieveResult 召回 Pipeline 的输出结果
type RetrieveResult struct {
	QueryID    string   // 本次查询唯一 ID（便于追踪回放）
	Query      string   // 原始问题
	TopK       int      // 实际使用的 k
	Passages   []string // 去重后的文本，按距离升序
	DurationMs int64    // 召回总耗时（毫秒）
	SearchMs   int64    // 向量化 + 检索耗时（毫秒）
	IsEmpty    bool     // 是否未命中任何结果（兜底标识）
	Message    string   // 提示信息
}

// RetrievePipeline 召回 Pipeline（基于 Eino compose.Graph）
//
// 节点：Validate → Retrieve → BuildResult。Retrieve 节点使用 vectordb.EinoRetriever，
// 先向量化再检索；集合在首次成功获取后缓存。
// 任何下游失败都降级为空结果，只有参数错误会返回 error。
type RetrievePipeline struct {
	vs          repository.VectorStore
	embedder    embedding.Embedder
	vectorDim   int
	defaultTopK int

	mu  sync.Mutex
	ret retriever.Retriever

	r compose.Runnable[*RetrieveRequest, *RetrieveResult]
}

// NewRetrievePipeline 创建召回 Pipeline
func NewRetrievePipeline(vs repository.VectorStore, embedder embedding.Embedder, vectorDim, defaultTopK int) (*RetrievePipeline, error) {
	if vs == nil {
		return nil, fmt.Errorf("vector store is nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if vectorDim <= 0 {
		return nil, fmt.Errorf("invalid vector dim: %d", vectorDim)
	}
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	p := &RetrievePipeline{vs: vs, embedder: embedder, vectorDim: vectorDim, defaultTopK: defaultTopK}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Retrieve 执行召回（封装 Eino Runnable.Invoke）
func (p *RetrievePipeline) Retrieve(ctx context.Context, req *RetrieveRequest) (*RetrieveResult, error) {
	if req == nil {
		return nil, fmt.Errorf("retrieve request is nil")
	}
	if p.r == nil {
		return nil, fmt.Errorf("pipeline runnable is nil")
	}
	return p.r.Invoke(ctx, req)
}

// retrieverFor 懒加载：集合可达后才构造 retriever，失败时下次重试
func (p *RetrievePipeline) retrieverFor(ctx context.Context) (retriever.Retriever, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ret != nil {
		return p.ret, nil
	}
	coll, err := p.vs.GetOrCreateCollection(ctx, p.vectorDim)
	if err != nil {
		return nil, err
	}
	ret, err := vectordb.NewEinoRetriever(p.vs, p.embedder, coll, p.defaultTopK)
	if err != nil {
		return nil, err
	}
	p.ret = ret
	return ret, nil
}

// normalizeTopK 规范化 TopK 参数（默认取配置，范围 1-50）
func normalizeTopK(topK, def int) int {
	if topK <= 0 {
		return def
	}
	if topK > 50 {
		return 50
	}
	return topK
}
