package request

// RetrieveRequest 召回查询请求
type RetrieveRequest struct {
	Query string `json:"query" binding:"required"` // 用户问题（必填）
	TopK  int    `json:"top_k"`                    // 返回条数（默认取配置，范围 1-50）
}

// IngestDocumentsRequest 参考文档导入请求
type IngestDocumentsRequest struct {
	Dir string `json:"dir"` // 文档目录，为空时使用 ragConfig.docsDir
}

// ListRunsRequest 运行历史查询
type ListRunsRequest struct {
	Limit int `form:"limit"` // 默认 20，最大 200
}
