package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// LLMError 大模型调用错误类型
// Code区分失败类别，调用方据此决定重试策略和对外的HTTP状态
type LLMError struct {
	Code    int    // 错误码
	Message string // 错误消息
}

// Error 实现error接口
func (e LLMError) Error() string {
	return fmt.Sprintf("llm error (code=%d): %s", e.Code, e.Message)
}

// 错误码常量
// 与向量化客户端的错误码分段保持一致
const (
	ErrCodeInvalidAPIKey  = 1001 // 无效的API密钥
	ErrCodeInvalidRequest = 1002 // 无效的请求
	ErrCodeNetworkError   = 1003 // 网络连接错误
	ErrCodeRateLimited    = 1004 // 请求频率超限
	ErrCodeServerError    = 1005 // 服务器错误
	ErrCodeTimeout        = 1006 // 请求超时
	ErrCodeEmptyPrompt    = 1007 // 提示词为空
	ErrCodeContextTooLong = 1008 // 上下文超出模型限制
)

// 错误消息常量
const (
	ErrMsgInvalidAPIKey  = "invalid API key"
	ErrMsgInvalidRequest = "invalid request parameters"
	ErrMsgRateLimited    = "too many requests, rate limit exceeded"
	ErrMsgServerError    = "server error occurred"
	ErrMsgTimeout        = "request timed out"
	ErrMsgEmptyPrompt    = "prompt cannot be empty"
	ErrMsgNetworkError   = "network connection error"
	ErrMsgContextTooLong = "context length exceeds model's maximum"
)

// NewLLMError 创建新的大模型错误
func NewLLMError(code int, message string) LLMError {
	return LLMError{
		Code:    code,
		Message: message,
	}
}

// statusError 按上游HTTP状态码归类生成错误
// 各家供应商的错误体格式不同，状态码是唯一可靠的公共信号
func statusError(statusCode int, message string) LLMError {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewLLMError(ErrCodeInvalidAPIKey, message)
	case statusCode == http.StatusTooManyRequests:
		return NewLLMError(ErrCodeRateLimited, message)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return NewLLMError(ErrCodeTimeout, message)
	case statusCode == http.StatusRequestEntityTooLarge:
		return NewLLMError(ErrCodeContextTooLong, message)
	case statusCode >= 500:
		return NewLLMError(ErrCodeServerError, message)
	default:
		return NewLLMError(ErrCodeInvalidRequest, message)
	}
}

// IsRetryable 判断生成失败是否值得重试
// 认证、参数和提示词类错误重试没有意义
func IsRetryable(err error) bool {
	var llmErr LLMError
	if !errors.As(err, &llmErr) {
		return false
	}

	switch llmErr.Code {
	case ErrCodeNetworkError, ErrCodeRateLimited, ErrCodeServerError, ErrCodeTimeout:
		return true
	default:
		return false
	}
}
