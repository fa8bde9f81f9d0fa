package rag

import "errors"

// TextMaxLength 单条文档文本上限（字符数），与集合 text 字段 max_length 一致
const TextMaxLength = 1024

var (
	ErrTextTooLong    = errors.New("document text exceeds max length")
	ErrDimMismatch    = errors.New("vector dim mismatch")
	ErrLengthMismatch = errors.New("texts and embeddings length mismatch")
	ErrSchemaInvalid  = errors.New("collection schema invalid")
)

// CollectionState 集合生命周期：ABSENT → CREATING → INDEXED → LOADED；
// 校验失败时 drop 回到 ABSENT 后重新走一遍。
type CollectionState int

const (
	CollectionAbsent CollectionState = iota
	CollectionCreating
	CollectionIndexed
	CollectionLoaded
)

func (s CollectionState) String() string {
	switch s {
	case CollectionAbsent:
		return "ABSENT"
	case CollectionCreating:
		return "CREATING"
	case CollectionIndexed:
		return "INDEXED"
	case CollectionLoaded:
		return "LOADED"
	default:
		return "UNKNOWN"
	}
}

// Collection 向量集合句柄
type Collection struct {
	Name       string
	Dim        int
	IndexType  string
	MetricType string
	State      CollectionState
	Recreated  bool // 本次获取时因 schema 不符被重建
}

// Number 可转换为向量分量的数值类型
type Number interface {
	~float32 | ~float64 | ~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// ToFloat32 将任意数值切片规范化为 []float32
func ToFloat32[T Number](in []T) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
