package xerr

import (
	"errors"
	"fmt"
)

// CodeError 自定义错误结构
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

// New 创建新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// From 提取错误链上的 CodeError；不是业务错误时返回 ErrServerError
func From(err error) *CodeError {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return ErrServerError
}

// 常用通用错误码
const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	Conflict            = 409
	InternalServerError = 500
	ServiceUnavailable  = 503
)

// 常用预定义错误
var (
	ErrSuccess     = New(OK, "Success")
	ErrServerError = New(InternalServerError, "系统错误，请联系工作人员")
	ErrParam       = New(BadRequest, "参数错误")
	ErrIngestBusy  = New(Conflict, "入库任务正在其他实例执行")
	ErrNoHistory   = New(ServiceUnavailable, "未启用运行历史（未配置 MySQL）")
	ErrDocsOutside = New(Forbidden, "文档目录必须位于 ragConfig.docsDir 之内")
	ErrAdminClosed = New(Forbidden, "未配置 jwtConfig.key，运维接口已关闭")
)
