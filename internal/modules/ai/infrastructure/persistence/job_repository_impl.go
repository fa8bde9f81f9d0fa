package persistence

import (
	"context"
	"time"

	"TradeRAG/internal/modules/ai/domain/job"
	"TradeRAG/internal/modules/ai/domain/repository"

	"gorm.io/gorm"
)

type ingestRunRepoImpl struct {
	db *gorm.DB
}

func NewIngestRunRepository(db *gorm.DB) repository.IngestRunRepository {
	return &ingestRunRepoImpl{db: db}
}

func (r *ingestRunRepoImpl) CreateRun(ctx context.Context, run *job.AIIngestRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == 0 {
		run.Status = job.JobStatusRunning
	}
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *ingestRunRepoImpl) FinishRun(ctx context.Context, run *job.AIIngestRun) error {
	if run == nil || run.RunID == "" {
		return nil
	}
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	return r.db.WithContext(ctx).Model(&job.AIIngestRun{}).
		Where("run_id = ?", run.RunID).
		Updates(map[string]interface{}{
			"status":      run.Status,
			"symbols":     run.Symbols,
			"facts":       run.Facts,
			"documents":   run.Documents,
			"new_texts":   run.NewTexts,
			"inserted":    run.Inserted,
			"summary":     run.Summary,
			"finished_at": finished,
		}).Error
}

func (r *ingestRunRepoImpl) ListRecent(ctx context.Context, limit int) ([]*job.AIIngestRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	var runs []*job.AIIngestRun
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
