package respond

import "time"

// RetrieveRespond 召回响应
type RetrieveRespond struct {
	QueryID    string   `json:"query_id"`    // 本次查询唯一 ID（便于追踪回放）
	Query      string   `json:"query"`       // 原始问题
	TopK       int      `json:"top_k"`       // 实际使用的 k
	Passages   []string `json:"passages"`    // 去重后的文本，按距离升序
	DurationMs int64    `json:"duration_ms"` // 召回耗时（毫秒）
	SearchMs   int64    `json:"search_ms"`   // 向量化 + 检索耗时（毫秒）
	IsEmpty    bool     `json:"is_empty"`    // 是否未命中任何结果
	Message    string   `json:"message"`     // 提示信息
}

// IngestRespond 单次入库结果
type IngestRespond struct {
	RunID           string   `json:"run_id"`
	Trigger         string   `json:"trigger"`
	Collection      string   `json:"collection"`
	Symbols         int      `json:"symbols"`
	Facts           int      `json:"facts"`
	Documents       int      `json:"documents"`
	Skipped         int      `json:"skipped"`
	NewTexts        int      `json:"new_texts"`
	Inserted        int      `json:"inserted"`
	Published       int      `json:"published"`
	FailedEndpoints []string `json:"failed_endpoints,omitempty"`
	DurationMs      int64    `json:"duration_ms"`
	Shared          bool     `json:"shared"` // 与正在执行的同一次任务合并
}

// IngestRunItem 运行历史条目
type IngestRunItem struct {
	RunID      string     `json:"run_id"`
	JobID      string     `json:"job_id"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	Symbols    int        `json:"symbols"`
	Facts      int        `json:"facts"`
	Documents  int        `json:"documents"`
	NewTexts   int        `json:"new_texts"`
	Inserted   int        `json:"inserted"`
	Summary    string     `json:"summary,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
