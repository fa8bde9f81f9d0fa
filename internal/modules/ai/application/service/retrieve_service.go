package service

import (
	"context"
	"strings"

	"TradeRAG/internal/modules/ai/application/dto/request"
	"TradeRAG/internal/modules/ai/application/dto/respond"
	"TradeRAG/internal/modules/ai/infrastructure/pipeline"
	"TradeRAG/pkg/xerr"
)

// Retriever 召回 Pipeline 的最小能力
type Retriever interface {
	Retrieve(ctx context.Context, req *pipeline.RetrieveRequest) (*pipeline.RetrieveResult, error)
}

// RetrieveService 召回服务：下游任何失败都降级为空结果，只有参数错误返回 error
type RetrieveService interface {
	// Retrieve 返回按距离排序、去重后的文本（长度 ≤ k）
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
	// Query 带统计信息的召回（HTTP 接口使用）
	Query(ctx context.Context, req request.RetrieveRequest) (*respond.RetrieveRespond, error)
}

type retrieveServiceImpl struct {
	retriever Retriever
}

func NewRetrieveService(r Retriever) RetrieveService {
	return &retrieveServiceImpl{retriever: r}
}

func (s *retrieveServiceImpl) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	resp, err := s.Query(ctx, request.RetrieveRequest{Query: query, TopK: k})
	if err != nil {
		return nil, err
	}
	return resp.Passages, nil
}

func (s *retrieveServiceImpl) Query(ctx context.Context, req request.RetrieveRequest) (*respond.RetrieveRespond, error) {
	if s == nil || s.retriever == nil {
		return nil, xerr.ErrServerError
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, xerr.New(xerr.BadRequest, "query is required")
	}
	if req.TopK < 0 {
		return nil, xerr.New(xerr.BadRequest, "top_k must be positive")
	}

	result, err := s.retriever.Retrieve(ctx, &pipeline.RetrieveRequest{Query: query, TopK: req.TopK})
	if err != nil {
		return nil, xerr.New(xerr.BadRequest, err.Error())
	}
	return &respond.RetrieveRespond{
		QueryID:    result.QueryID,
		Query:      result.Query,
		TopK:       result.TopK,
		Passages:   result.Passages,
		DurationMs: result.DurationMs,
		SearchMs:   result.SearchMs,
		IsEmpty:    result.IsEmpty,
		Message:    result.Message,
	}, nil
}
