package http

import (
	"errors"
	"io"

	aiRequest "TradeRAG/internal/modules/ai/application/dto/request"
	"TradeRAG/internal/modules/ai/application/service"
	"TradeRAG/internal/modules/ai/domain/job"
	"TradeRAG/pkg/back"
	"TradeRAG/pkg/xerr"
	"TradeRAG/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHandler 入库运维接口（配置 jwt key 后需要 Bearer token）
type AdminHandler struct {
	ingestSvc service.IngestService
}

func NewAdminHandler(ingestSvc service.IngestService) *AdminHandler {
	return &AdminHandler{ingestSvc: ingestSvc}
}

// IngestNow 路由: POST /ai/ingest，同步执行一次行情入库
func (h *AdminHandler) IngestNow(c *gin.Context) {
	data, err := h.ingestSvc.RunMarketIngest(c.Request.Context(), job.TriggerManual)
	if err != nil {
		zlog.Warn("manual ingest failed", zap.Error(err))
	}
	back.Result(c, data, err)
}

// IngestDocuments 路由: POST /ai/documents，请求体可省略（使用配置目录）
func (h *AdminHandler) IngestDocuments(c *gin.Context) {
	var req aiRequest.IngestDocumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.ingestSvc.IngestDocuments(c.Request.Context(), req.Dir)
	if err != nil {
		zlog.Warn("docs ingest failed", zap.String("dir", req.Dir), zap.Error(err))
	}
	back.Result(c, data, err)
}

// ListRuns 路由: GET /ai/runs?limit=20
func (h *AdminHandler) ListRuns(c *gin.Context) {
	var req aiRequest.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.ingestSvc.RecentRuns(c.Request.Context(), req.Limit)
	back.Result(c, data, err)
}
