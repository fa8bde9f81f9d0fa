package http

import (
	aiRequest "TradeRAG/internal/modules/ai/application/dto/request"
	"TradeRAG/internal/modules/ai/application/service"
	"TradeRAG/pkg/back"
	"TradeRAG/pkg/xerr"
	"TradeRAG/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// QueryHandler 召回查询 HTTP Handler
type QueryHandler struct {
	retrieveSvc service.RetrieveService
}

func NewQueryHandler(retrieveSvc service.RetrieveService) *QueryHandler {
	return &QueryHandler{retrieveSvc: retrieveSvc}
}

// Retrieve 处理召回请求
//
// 路由: POST /ai/retrieve
// 请求体: RetrieveRequest
// 响应体: RetrieveRespond（未命中时 passages 为空数组，不返回错误）
func (h *QueryHandler) Retrieve(c *gin.Context) {
	var req aiRequest.RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zlog.Warn("retrieve bind failed", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.retrieveSvc.Query(c.Request.Context(), req)
	back.Result(c, data, err)
}
