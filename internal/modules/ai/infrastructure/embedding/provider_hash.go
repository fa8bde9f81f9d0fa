package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/embedding"
)

// HashEmbedder 本地确定性 embedding（特征哈希：词 + 字符三元组），无需外部服务。
// 语义能力有限，用于本地开发、离线演示与测试；相同文本永远得到相同向量。
type HashEmbedder struct {
	Dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{Dim: dim}
}

func (h *HashEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	result := make([][]float64, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result[i] = h.embed(t)
	}
	return result, nil
}

func (h *HashEmbedder) embed(text string) []float64 {
	vec := make([]float64, h.Dim)
	for _, tok := range tokenize(text) {
		h.add(vec, "w:"+tok, 1.0)
		r := []rune(tok)
		for j := 0; j+3 <= len(r); j++ {
			h.add(vec, "g:"+string(r[j:j+3]), 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for j := range vec {
		vec[j] /= norm
	}
	return vec
}

func (h *HashEmbedder) add(vec []float64, feature string, weight float64) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.Dim))
	// 高位决定符号，降低碰撞带来的偏置
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '%'
	})
}

var _ embedding.Embedder = (*HashEmbedder)(nil)
