package repository

import (
	"context"

	"TradeRAG/internal/modules/ai/domain/job"
)

// IngestRunRepository 入库运行历史（可选，未配置 MySQL 时不启用）
type IngestRunRepository interface {
	CreateRun(ctx context.Context, run *job.AIIngestRun) error
	// FinishRun 写入终态与统计
	FinishRun(ctx context.Context, run *job.AIIngestRun) error
	ListRecent(ctx context.Context, limit int) ([]*job.AIIngestRun, error)
}
