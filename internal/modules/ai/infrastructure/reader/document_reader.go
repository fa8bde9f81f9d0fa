package reader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"TradeRAG/pkg/zlog"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const (
	MetaSource = "source"

	defaultMaxFileBytes = 4 << 20
)

// DocumentReader 按 glob 规则读取参考文档目录（交易规则、术语表等）
type DocumentReader struct {
	includes     []string
	excludes     []string
	maxFileBytes int64
}

func NewDocumentReader(includes, excludes []string) *DocumentReader {
	if len(includes) == 0 {
		includes = []string{"**/*.md", "**/*.txt"}
	}
	return &DocumentReader{includes: includes, excludes: excludes, maxFileBytes: defaultMaxFileBytes}
}

// Read 返回按相对路径排序的文档，MetaData[source] 为相对 root 的路径。
// 空文件、非 UTF-8 文件与超大文件被跳过。
func (r *DocumentReader) Read(ctx context.Context, root string) ([]*schema.Document, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("docs dir is empty")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("docs dir %s is not a directory", root)
	}

	var docs []*schema.Document
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && r.excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !r.included(rel) || r.excluded(rel) {
			return nil
		}

		doc, ok := r.readOne(path, rel, d)
		if ok {
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].MetaData[MetaSource].(string) < docs[j].MetaData[MetaSource].(string)
	})
	return docs, nil
}

func (r *DocumentReader) readOne(path, rel string, d fs.DirEntry) (*schema.Document, bool) {
	// 只读普通文件，符号链接可能指向目录之外
	if !d.Type().IsRegular() {
		zlog.Warn("docs file skipped: not a regular file", zap.String("file", rel))
		return nil, false
	}
	fi, err := d.Info()
	if err != nil {
		zlog.Warn("docs stat failed", zap.String("file", rel), zap.Error(err))
		return nil, false
	}
	if fi.Size() > r.maxFileBytes {
		zlog.Warn("docs file skipped: too large", zap.String("file", rel), zap.Int64("bytes", fi.Size()))
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		zlog.Warn("docs read failed", zap.String("file", rel), zap.Error(err))
		return nil, false
	}
	if !utf8.Valid(data) {
		zlog.Warn("docs file skipped: not utf-8", zap.String("file", rel))
		return nil, false
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, false
	}
	return &schema.Document{
		ID:       rel,
		Content:  content,
		MetaData: map[string]any{MetaSource: rel},
	}, true
}

func (r *DocumentReader) included(rel string) bool {
	return matchAny(r.includes, rel)
}

func (r *DocumentReader) excluded(rel string) bool {
	return matchAny(r.excludes, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}
