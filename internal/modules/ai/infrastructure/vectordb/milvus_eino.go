package vectordb

import (
	"context"
	"fmt"
	"strings"

	"TradeRAG/internal/modules/ai/domain/rag"
	"TradeRAG/internal/modules/ai/domain/repository"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

// EinoRetriever 是“Eino <-> domain VectorStore”的适配层。
//
// 实现 Eino 的 retriever.Retriever：先用 embedder 把 query 向量化，再调用
// repository.VectorStore.Search。返回的 Document 只有 Content（文本即身份），
// ID 为其在结果中的排名（从 1 开始）。
//
// 检索失败按 VectorStore 约定返回空列表而非 error；只有 embedding 失败会返回 error。
type EinoRetriever struct {
	vs       repository.VectorStore
	embedder embedding.Embedder
	coll     *rag.Collection
	topK     int
}

var _ retriever.Retriever = (*EinoRetriever)(nil)

func NewEinoRetriever(vs repository.VectorStore, embedder embedding.Embedder, coll *rag.Collection, topK int) (*EinoRetriever, error) {
	if vs == nil {
		return nil, fmt.Errorf("vector store is nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if coll == nil {
		return nil, fmt.Errorf("collection is nil")
	}
	if topK <= 0 {
		topK = 3
	}
	return &EinoRetriever{vs: vs, embedder: embedder, coll: coll, topK: topK}, nil
}

func (r *EinoRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*schema.Document{}, nil
	}
	topK := r.topK
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if o.TopK != nil && *o.TopK > 0 {
		topK = *o.TopK
	}

	vecs, err := r.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}

	texts := r.vs.Search(ctx, r.coll, vecs[0], topK)
	docs := make([]*schema.Document, 0, len(texts))
	for i, t := range texts {
		docs = append(docs, &schema.Document{ID: fmt.Sprintf("%d", i+1), Content: t})
	}
	return docs, nil
}

// DocumentTexts 从 Document 列表中取出文本
func DocumentTexts(docs []*schema.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		out = append(out, d.Content)
	}
	return out
}
