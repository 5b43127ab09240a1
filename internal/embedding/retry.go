package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// retryClient 重试与维度校验包装器
// 对瞬时错误做有界重试，配额错误和维度过短立即失败
type retryClient struct {
	inner      Client
	maxRetries int
	retryDelay time.Duration
	dimensions int
	logger     *logrus.Logger
}

// Wrap 为原始客户端套上重试和维度校验包装
func Wrap(inner Client, cfg *Config) Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &retryClient{
		inner:      inner,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		dimensions: cfg.Dimensions,
		logger:     logger,
	}
}

// Name 返回模型名称
func (c *retryClient) Name() string {
	return c.inner.Name()
}

// Embed 生成单条文本的向量表示
// 重试使用显式计数循环，便于单独测试退避策略
func (c *retryClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, NewEmbeddingError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(c.retryDelay):
			}
		}

		vector, err := c.inner.Embed(ctx, text)
		if err == nil {
			return c.checkDimension(vector)
		}

		// 配额错误不重试，保留错误类型供批处理调用方识别
		if IsQuotaExceeded(err) {
			return nil, err
		}

		if !IsTransient(err) {
			return nil, err
		}

		lastErr = err
		c.logger.WithFields(logrus.Fields{
			"attempt":     attempt + 1,
			"max_retries": c.maxRetries,
			"model":       c.inner.Name(),
		}).WithError(err).Warn("Transient embedding error, retrying")
	}

	return nil, NewEmbeddingError(ErrCodeServerError,
		fmt.Sprintf("embedding failed after %d retries: %v", c.maxRetries, lastErr))
}

// checkDimension 校验返回向量的维度
// 等于期望值直接接受；过长截断并告警；过短视为致命错误
func (c *retryClient) checkDimension(vector []float32) ([]float32, error) {
	if c.dimensions <= 0 || len(vector) == c.dimensions {
		return vector, nil
	}

	if len(vector) > c.dimensions {
		c.logger.WithFields(logrus.Fields{
			"got":      len(vector),
			"expected": c.dimensions,
		}).Warn("Embedding longer than expected, truncating; quality may degrade")
		return vector[:c.dimensions], nil
	}

	return nil, DimensionError{Got: len(vector), Want: c.dimensions}
}
