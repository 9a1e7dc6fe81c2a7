package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/internal/services"
	logger "github.com/Gopher0727/Warden/middleware/log"
)

// Response 统一响应结构, 四个字段总是出现
type Response struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    any      `json:"data"`
	Errors  []string `json:"errors"`
}

// Page 分页数据
type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

func ok(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Response{Success: true, Message: message, Data: data, Errors: []string{}})
}

// Fail 失败响应, 中间件也使用
func Fail(c *gin.Context, status int, message string, errs ...string) {
	if errs == nil {
		errs = []string{}
	}
	c.AbortWithStatusJSON(status, Response{Success: false, Message: message, Errors: errs})
}

// statusFor 服务层错误到 HTTP 状态码
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidationFailed):
		return http.StatusBadRequest, "validation failed"
	case errors.Is(err, services.ErrInviteRequired):
		return http.StatusBadRequest, "an invite is required to register"
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid username or password"
	case errors.Is(err, services.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid or expired token"
	case errors.Is(err, services.ErrLockedOut):
		return http.StatusForbidden, "account is locked, try again later"
	case errors.Is(err, services.ErrEmailNotConfirmed):
		return http.StatusForbidden, "email address is not confirmed"
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, services.ErrExpired):
		return http.StatusBadRequest, "expired"
	case errors.Is(err, services.ErrAlreadyUsed), errors.Is(err, services.ErrAlreadyRevoked):
		return http.StatusConflict, "already used"
	case errors.Is(err, services.ErrUserExists):
		return http.StatusConflict, "username or email already registered"
	case errors.Is(err, services.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "quota exceeded"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// respondError 映射错误并写响应; 5xx 记录完整错误, 客户端只看到通用信息
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("trace_id", logger.GetTraceID(c.Request.Context())),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	Fail(c, status, message, services.Problems(err)...)
}

func userID(c *gin.Context) uint {
	return c.GetUint("user_id")
}

func roles(c *gin.Context) []string {
	return c.GetStringSlice("roles")
}

// requester 匿名请求返回 nil
func requester(c *gin.Context) *services.Requester {
	id := userID(c)
	if id == 0 {
		return nil
	}
	return &services.Requester{UserID: id, Roles: roles(c)}
}

func pageParams(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}
