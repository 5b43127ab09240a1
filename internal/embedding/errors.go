package embedding

import (
	"errors"
	"fmt"
)

// EmbeddingError 嵌入错误类型
type EmbeddingError struct {
	Code    int    // 错误码
	Message string // 错误消息
}

// Error 实现error接口
func (e EmbeddingError) Error() string {
	return fmt.Sprintf("embedding error (code=%d): %s", e.Code, e.Message)
}

// 错误码常量
const (
	ErrCodeInvalidAPIKey  = 1001 // 无效的API密钥
	ErrCodeInvalidRequest = 1002 // 无效的请求
	ErrCodeNetworkError   = 1003 // 网络连接错误
	ErrCodeQuotaExceeded  = 1004 // 配额耗尽，不可重试
	ErrCodeServerError    = 1005 // 服务器错误
	ErrCodeTimeout        = 1006 // 请求超时
	ErrCodeEmptyInput     = 1007 // 输入为空
	ErrCodeUnavailable    = 1008 // 服务暂时不可用
)

// 错误消息常量
const (
	ErrMsgInvalidAPIKey = "invalid API key"
	ErrMsgQuotaExceeded = "provider quota exceeded, request cannot be retried"
	ErrMsgServerError   = "server error occurred"
	ErrMsgTimeout       = "request timed out"
	ErrMsgEmptyInput    = "input text cannot be empty"
	ErrMsgUnavailable   = "service temporarily unavailable"
)

// NewEmbeddingError 创建新的嵌入错误
func NewEmbeddingError(code int, message string) EmbeddingError {
	return EmbeddingError{
		Code:    code,
		Message: message,
	}
}

// DimensionError 向量维度不匹配错误
// 仅在返回向量短于期望维度时产生，不可重试
type DimensionError struct {
	Got  int // 实际维度
	Want int // 期望维度
}

// Error 实现error接口
func (e DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension %d shorter than expected %d", e.Got, e.Want)
}

// IsQuotaExceeded 判断是否为配额耗尽错误
// 批处理调用方据此立即停止剩余处理
func IsQuotaExceeded(err error) bool {
	var ee EmbeddingError
	return errors.As(err, &ee) && ee.Code == ErrCodeQuotaExceeded
}

// IsDimensionMismatch 判断是否为维度不匹配错误
func IsDimensionMismatch(err error) bool {
	var de DimensionError
	return errors.As(err, &de)
}

// IsTransient 判断错误是否可重试
// 超时和临时不可用属于瞬时错误，其余错误立即失败
func IsTransient(err error) bool {
	var ee EmbeddingError
	if !errors.As(err, &ee) {
		return false
	}
	switch ee.Code {
	case ErrCodeTimeout, ErrCodeNetworkError, ErrCodeUnavailable:
		return true
	}
	return false
}
