package vectordb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"TradeRAG/internal/modules/ai/domain/rag"
	"TradeRAG/internal/modules/ai/domain/repository"
)

// MemoryStore 进程内向量库（L2 暴力检索），用于离线运行与测试。
// 语义与 MilvusStore 一致：文本精确去重、插入校验、检索结果去重。
type MemoryStore struct {
	name string

	mu    sync.RWMutex
	dim   int
	texts []string
	vecs  [][]float32
}

var _ repository.VectorStore = (*MemoryStore)(nil)

func NewMemoryStore(name string) *MemoryStore {
	if name == "" {
		name = "memory"
	}
	return &MemoryStore{name: name}
}

func (m *MemoryStore) GetOrCreateCollection(ctx context.Context, dim int) (*rag.Collection, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid vector dim: %d", dim)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	recreated := false
	if m.dim != 0 && m.dim != dim {
		m.texts, m.vecs = nil, nil
		recreated = true
	}
	m.dim = dim
	return &rag.Collection{
		Name:       m.name,
		Dim:        dim,
		IndexType:  "FLAT",
		MetricType: "L2",
		State:      rag.CollectionLoaded,
		Recreated:  recreated,
	}, nil
}

func (m *MemoryStore) Dedup(ctx context.Context, coll *rag.Collection, candidates []string) []string {
	m.mu.RLock()
	seen := make(map[string]struct{}, len(m.texts))
	for _, t := range m.texts {
		seen[t] = struct{}{}
	}
	m.mu.RUnlock()

	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (m *MemoryStore) Insert(ctx context.Context, coll *rag.Collection, texts []string, embeddings [][]float64) (int, error) {
	if len(texts) == 0 || len(embeddings) == 0 {
		return 0, nil
	}
	if len(texts) != len(embeddings) {
		return 0, fmt.Errorf("%w: texts=%d embeddings=%d", rag.ErrLengthMismatch, len(texts), len(embeddings))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	vecs := make([][]float32, 0, len(embeddings))
	for i := range texts {
		if n := utf8.RuneCountInString(texts[i]); n > rag.TextMaxLength {
			return 0, fmt.Errorf("%w: index=%d length=%d max=%d", rag.ErrTextTooLong, i, n, rag.TextMaxLength)
		}
		if len(embeddings[i]) != m.dim {
			return 0, fmt.Errorf("%w: index=%d got=%d want=%d", rag.ErrDimMismatch, i, len(embeddings[i]), m.dim)
		}
		vecs = append(vecs, rag.ToFloat32(embeddings[i]))
	}
	m.texts = append(m.texts, texts...)
	m.vecs = append(m.vecs, vecs...)
	return len(texts), nil
}

func (m *MemoryStore) Search(ctx context.Context, coll *rag.Collection, query []float64, k int) []string {
	out := []string{}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(query) != m.dim {
		return out
	}
	q := rag.ToFloat32(query)
	idx := make([]int, len(m.texts))
	dist := make([]float32, len(m.texts))
	for i := range m.texts {
		idx[i] = i
		for j := range q {
			d := m.vecs[i][j] - q[j]
			dist[i] += d * d
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return dist[idx[a]] < dist[idx[b]] })

	seen := make(map[string]struct{}, k)
	for _, i := range idx {
		if len(out) == k {
			break
		}
		t := m.texts[i]
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Len 当前行数（含重复文本）
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.texts)
}
