package job

import (
	"time"
)

// JobIDMarketIngest 行情入库任务的固定标识（调度注册、运行历史、跨进程锁都以此为键）
const (
	JobIDMarketIngest = "market_ingest"
	JobIDDocsIngest   = "docs_ingest"
)

// 任务执行状态
const (
	JobStatusRunning   = 1 // 执行中
	JobStatusCompleted = 2 // 完成
	JobStatusFailed    = 3 // 失败
)

// StatusName 状态码转可读名称
func StatusName(status int) string {
	switch status {
	case JobStatusRunning:
		return "running"
	case JobStatusCompleted:
		return "completed"
	case JobStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AIIngestRun 单次入库运行记录
type AIIngestRun struct {
	ID         int64      `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string     `gorm:"column:run_id;uniqueIndex;type:varchar(64)"`
	JobID      string     `gorm:"column:job_id;index;type:varchar(64)"`
	Trigger    string     `gorm:"column:trigger_source;type:varchar(20)"` // schedule / manual / startup / docs
	Status     int        `gorm:"column:status;default:1;index"`
	Symbols    int        `gorm:"column:symbols"`
	Facts      int        `gorm:"column:facts"`
	Documents  int        `gorm:"column:documents"`
	NewTexts   int        `gorm:"column:new_texts"`
	Inserted   int        `gorm:"column:inserted"`
	Summary    string     `gorm:"column:summary;type:text"` // 错误信息或失败端点
	StartedAt  time.Time  `gorm:"column:started_at;index"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
}

func (AIIngestRun) TableName() string {
	return "ai_ingest_run"
}
