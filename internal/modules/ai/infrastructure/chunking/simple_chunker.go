package chunking

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"TradeRAG/internal/modules/ai/domain/rag"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

const MetaChunkIndex = "chunk_index"

// Chunker 参考文档切片：先按段落/句子递归切分，超出 text 字段上限的片段再按字符硬切
type Chunker struct {
	size     int
	overlap  int
	splitter document.Transformer
}

// NewChunker size 超过 rag.TextMaxLength 时截到上限
func NewChunker(ctx context.Context, size, overlap int) (*Chunker, error) {
	if size <= 0 || size > rag.TextMaxLength {
		size = rag.TextMaxLength
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	sp, err := recursive.NewSplitter(ctx, &recursive.Config{
		ChunkSize:   size,
		OverlapSize: overlap,
		Separators:  []string{"\n\n", "\n", "。", ". ", "！", "？", "；", "，", " "},
		LenFunc:     utf8.RuneCountInString,
		KeepType:    recursive.KeepTypeEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("init recursive splitter: %w", err)
	}
	return &Chunker{size: size, overlap: overlap, splitter: sp}, nil
}

// Split 保留原文档 MetaData 并追加 chunk_index
func (c *Chunker) Split(ctx context.Context, docs []*schema.Document) ([]*schema.Document, error) {
	out := make([]*schema.Document, 0, len(docs))
	for _, d := range docs {
		if d == nil || strings.TrimSpace(d.Content) == "" {
			continue
		}
		frags, err := c.splitter.Transform(ctx, []*schema.Document{{Content: d.Content}})
		if err != nil {
			return nil, err
		}
		idx := 0
		for _, f := range frags {
			if f == nil {
				continue
			}
			for _, part := range ChunkRunes(f.Content, c.size, c.overlap) {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				n := &schema.Document{Content: part, MetaData: make(map[string]any, len(d.MetaData)+1)}
				for k, v := range d.MetaData {
					n.MetaData[k] = v
				}
				n.MetaData[MetaChunkIndex] = idx
				idx++
				out = append(out, n)
			}
		}
	}
	return out, nil
}

// Texts 提取片段文本
func Texts(docs []*schema.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, d.Content)
		}
	}
	return out
}

// ChunkRunes 按 rune 定长切分（带重叠），多字节字符不会被截断
func ChunkRunes(text string, size, overlap int) []string {
	if text == "" {
		return []string{}
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	step := size - overlap
	if step <= 0 {
		step = 1
	}
	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := min(i+size, len(runes))
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
