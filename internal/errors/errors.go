package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 统一承载同步核心的业务错误，包含错误码、用户可见消息以及原始错误
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// WithMessage 替换用户可见消息，保留错误码
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: message,
		Err:     e.Err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// IsRetryable 判断错误是否为可重试的临时故障
// 只有存储不可用属于临时故障，权限、参与者等错误均为终态
func IsRetryable(err error) bool {
	return Is(err, ErrStoreUnavailable)
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "服务器内部错误"
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeTokenInvalid = 10003
	CodeTokenExpired = 10004

	// 参数相关 11000-11999
	CodeNotFound      = 11001
	CodeInvalidParams = 11002

	// 会话相关 20000-20999
	CodeNotAParticipant = 20001
	CodeNotAuthorized   = 20002
	CodeAlreadyExists   = 20003

	// 媒体相关 21000-21999
	CodeMediaUploadFailed = 21001

	// 系统错误 50000-50999
	CodeServerError      = 50001
	CodeStoreUnavailable = 50002
	CodeTooManyRequest   = 50003
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrTokenInvalid = NewError(CodeTokenInvalid, "Token 无效")
	ErrTokenExpired = NewError(CodeTokenExpired, "Token 已过期")
)

// 参数相关
var (
	ErrNotFound      = NewError(CodeNotFound, "资源不存在")
	ErrInvalidParams = NewError(CodeInvalidParams, "参数校验失败")
)

// 会话相关
var (
	ErrNotAParticipant = NewError(CodeNotAParticipant, "不是会话参与者")
	ErrNotAuthorized   = NewError(CodeNotAuthorized, "没有操作权限")
	ErrAlreadyExists   = NewError(CodeAlreadyExists, "会话已存在")
)

// 媒体相关
var (
	ErrMediaUploadFailed = NewError(CodeMediaUploadFailed, "媒体上传失败")
)

// 系统相关
var (
	ErrServerError      = NewError(CodeServerError, "服务器内部错误")
	ErrStoreUnavailable = NewError(CodeStoreUnavailable, "存储暂时不可用")
	ErrTooManyRequest   = NewError(CodeTooManyRequest, "请求过于频繁，请稍后再试")
)
