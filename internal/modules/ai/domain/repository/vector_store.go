package repository

import (
	"context"

	"TradeRAG/internal/modules/ai/domain/rag"
)

// VectorStore 是 domain 层定义的“向量库能力抽象”。
//
// application / pipeline 只依赖本接口，infrastructure/vectordb 提供 Milvus 实现。
// 文本是去重键（精确相等），集合内不做唯一约束，重复由 Dedup 与 Search 两端吸收。
type VectorStore interface {
	// GetOrCreateCollection 获取或创建集合并确保索引与加载；仅在存储不可达等情况下返回错误
	GetOrCreateCollection(ctx context.Context, dim int) (*rag.Collection, error)
	// Dedup 返回库中尚不存在的候选文本；读取失败时放行全部候选
	Dedup(ctx context.Context, coll *rag.Collection, candidates []string) []string
	// Insert 写入 (embedding, text) 并 flush；失败返回错误
	Insert(ctx context.Context, coll *rag.Collection, texts []string, embeddings [][]float64) (int, error)
	// Search 返回按距离排序、去重后的文本，失败时返回空切片
	Search(ctx context.Context, coll *rag.Collection, query []float64, k int) []string
}
