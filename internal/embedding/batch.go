package embedding

import (
	"context"

	"github.com/sirupsen/logrus"
)

// BatchItem 批处理条目
type BatchItem struct {
	ID   string // 条目标识，通常为分块ID
	Text string // 待嵌入的文本
}

// BatchProcessor 顺序批处理器
// 提供方限流严格，批处理严格串行执行，绝不并发调用
type BatchProcessor struct {
	client Client         // 嵌入客户端
	logger *logrus.Logger // 日志记录器
}

// NewBatchProcessor 创建新的批处理器
func NewBatchProcessor(client Client, logger *logrus.Logger) *BatchProcessor {
	if logger == nil {
		logger = logrus.New()
	}
	return &BatchProcessor{
		client: client,
		logger: logger,
	}
}

// Process 逐条嵌入并通过apply回调落库
// 返回成功应用的条目数。配额耗尽立即停止剩余条目并返回该错误；
// 其他嵌入失败仅记录日志并跳过，不影响后续条目
func (p *BatchProcessor) Process(ctx context.Context, items []BatchItem, apply func(id string, vector []float32) error) (int, error) {
	count := 0

	for _, item := range items {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		default:
		}

		vector, err := p.client.Embed(ctx, item.Text)
		if err != nil {
			if IsQuotaExceeded(err) {
				p.logger.WithFields(logrus.Fields{
					"item_id":   item.ID,
					"remaining": len(items) - count,
				}).WithError(err).Error("Quota exceeded, halting batch embedding")
				return count, err
			}

			p.logger.WithField("item_id", item.ID).WithError(err).Warn("Failed to embed item, skipping")
			continue
		}

		if err := apply(item.ID, vector); err != nil {
			p.logger.WithField("item_id", item.ID).WithError(err).Warn("Failed to store embedding, skipping")
			continue
		}

		count++
	}

	return count, nil
}
