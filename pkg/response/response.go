package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "hudhud.im.sync/internal/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// httpStatus 错误码对应的 HTTP 状态
var httpStatus = map[int]int{
	apperrors.CodeTokenInvalid:      http.StatusUnauthorized,
	apperrors.CodeTokenExpired:      http.StatusUnauthorized,
	apperrors.CodeNotFound:          http.StatusNotFound,
	apperrors.CodeInvalidParams:     http.StatusBadRequest,
	apperrors.CodeNotAParticipant:   http.StatusForbidden,
	apperrors.CodeNotAuthorized:     http.StatusForbidden,
	apperrors.CodeAlreadyExists:     http.StatusConflict,
	apperrors.CodeMediaUploadFailed: http.StatusBadGateway,
	apperrors.CodeStoreUnavailable:  http.StatusServiceUnavailable,
	apperrors.CodeTooManyRequest:    http.StatusTooManyRequests,
}

// StatusFor 错误码映射到 HTTP 状态，未知错误码为 500
func StatusFor(code int) int {
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    apperrors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Accepted 已受理但尚未完成（发送进入重试队列）
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    apperrors.CodeSuccess,
		Message: "pending",
		Data:    data,
	})
}

// Error 从错误生成响应，非 AppError 按服务器内部错误处理
func Error(c *gin.Context, err error) {
	code := apperrors.GetCode(err)
	c.JSON(StatusFor(code), Response{
		Code:    code,
		Message: apperrors.GetMessage(err),
		Data:    nil,
	})
}

// InvalidParams 参数校验失败
func InvalidParams(c *gin.Context, message string) {
	Error(c, apperrors.ErrInvalidParams.WithMessage(message))
}

// Unauthorized 未认证
func Unauthorized(c *gin.Context) {
	Error(c, apperrors.ErrTokenInvalid)
}
