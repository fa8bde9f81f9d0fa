package util

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateUUID 生成一个标准的 UUID (v4)
func GenerateUUID() string {
	return uuid.New().String()
}

// GenerateShortUUID 生成一个不带中划线的短 UUID
func GenerateShortUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewRunID 入库运行标识 <jobID>-<UTC 时间>-<8 位随机>，如 market_ingest-20261015T120000-1a2b3c4d。
// 总长不超过 run_id 列的 64 字符。
func NewRunID(jobID string, now time.Time) string {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		jobID = "run"
	}
	if len(jobID) > 40 {
		jobID = jobID[:40]
	}
	return jobID + "-" + now.UTC().Format("20060102T150405") + "-" + GenerateShortUUID()[:8]
}

// RunJobID 从 NewRunID 的结果取回 jobID；格式不符返回空串
func RunJobID(runID string) string {
	parts := strings.Split(runID, "-")
	if len(parts) < 3 {
		return ""
	}
	stamp := parts[len(parts)-2]
	if _, err := time.Parse("20060102T150405", stamp); err != nil {
		return ""
	}
	return strings.Join(parts[:len(parts)-2], "-")
}
