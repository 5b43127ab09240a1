package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/raglite/doc-retrieval-system/api/model"
	"github.com/raglite/doc-retrieval-system/internal/llm"
	"github.com/raglite/doc-retrieval-system/internal/models"
)

// 应用错误类型常量
const (
	ErrorTypeValidation = "VALIDATION_ERROR" // 输入验证错误
	ErrorTypeNotFound   = "NOT_FOUND_ERROR"  // 资源不存在错误
	ErrorTypeInternal   = "INTERNAL_ERROR"   // 内部服务器错误
	ErrorTypeBusiness   = "BUSINESS_ERROR"   // 业务逻辑错误
	ErrorTypeUpstream   = "UPSTREAM_ERROR"   // 上游模型服务错误
)

// AppError 应用错误结构体
type AppError struct {
	Type    string // 错误类型
	Message string // 错误消息
	Details string // 详细错误信息
	Code    int    // HTTP状态码
}

// Error 实现error接口
func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewValidationError 创建输入验证错误
func NewValidationError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) AppError {
	return AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

// NewInternalError 创建内部服务器错误
func NewInternalError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusInternalServerError,
	}
}

// NewBusinessError 创建业务逻辑错误
func NewBusinessError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeBusiness,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// classify 将领域错误映射为应用错误
func classify(err error) AppError {
	var appErr AppError
	var llmErr llm.LLMError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, models.ErrDocumentNotFound):
		return NewNotFoundError("document not found")
	case errors.Is(err, models.ErrInvalidDocumentID):
		return NewValidationError("invalid document id")
	case errors.Is(err, models.ErrInvalidDocumentStatus):
		return AppError{
			Type:    ErrorTypeBusiness,
			Message: err.Error(),
			Code:    http.StatusConflict,
		}
	case errors.As(err, &llmErr):
		return classifyLLMError(llmErr)
	default:
		return NewInternalError("internal server error", err.Error())
	}
}

// classifyLLMError 将大模型错误翻译为对外的HTTP响应
// 提示词和参数问题归咎于请求方，上游故障返回502并保留可重试语义
func classifyLLMError(llmErr llm.LLMError) AppError {
	switch llmErr.Code {
	case llm.ErrCodeEmptyPrompt, llm.ErrCodeInvalidRequest, llm.ErrCodeContextTooLong:
		return NewValidationError(llmErr.Message)
	case llm.ErrCodeRateLimited:
		return AppError{
			Type:    ErrorTypeUpstream,
			Message: llmErr.Message,
			Code:    http.StatusTooManyRequests,
		}
	default:
		return AppError{
			Type:    ErrorTypeUpstream,
			Message: "answer generation failed",
			Details: llmErr.Message,
			Code:    http.StatusBadGateway,
		}
	}
}

// ErrorHandler 统一错误处理中间件
// 捕获panic并把处理器挂到上下文的错误翻译为统一响应
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(logrus.Fields{
					"error": err,
					"stack": string(debug.Stack()),
					"path":  c.Request.URL.Path,
				}).Error("Panic recovered in API request")

				errResp := model.NewErrorResponse(
					http.StatusInternalServerError,
					"An unexpected error occurred",
				)
				if gin.Mode() == gin.DebugMode {
					errResp.Message = fmt.Sprintf("Panic: %v", err)
				}
				errResp.TraceID = TraceID(c)

				c.AbortWithStatusJSON(http.StatusInternalServerError, errResp)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		appErr := classify(err)
		traceID := TraceID(c)

		log.WithFields(logrus.Fields{
			"error_type": appErr.Type,
			"trace_id":   traceID,
			"path":       c.Request.URL.Path,
		}).Error(appErr.Error())

		errResp := model.NewErrorResponse(appErr.Code, appErr.Message)
		errResp.TraceID = traceID

		c.AbortWithStatusJSON(appErr.Code, errResp)
	}
}

// HandleError 在处理器中挂起错误，交给ErrorHandler统一返回
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
}
