package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Processor 后台执行的文档处理函数
type Processor func(ctx context.Context, documentID string) error

// Dispatcher 文档处理任务的派发接口
// 上传接口通过它把解析、分段和向量化移出请求路径
type Dispatcher interface {
	// Dispatch 派发文档处理任务，返回任务ID
	Dispatch(ctx context.Context, documentID string) (string, error)

	// Close 停止派发并释放资源
	Close() error
}

// InlineDispatcher 进程内派发器
// 每个任务在独立goroutine中带超时执行，未配置Redis时的默认实现
type InlineDispatcher struct {
	processor Processor
	timeout   time.Duration
	logger    *logrus.Logger
	wg        sync.WaitGroup
}

// NewInlineDispatcher 创建进程内派发器
func NewInlineDispatcher(processor Processor, timeout time.Duration, logger *logrus.Logger) *InlineDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &InlineDispatcher{
		processor: processor,
		timeout:   timeout,
		logger:    logger,
	}
}

// Dispatch 在后台goroutine中执行处理函数
// 处理结果通过文档状态表达，调用方不等待
func (d *InlineDispatcher) Dispatch(ctx context.Context, documentID string) (string, error) {
	jobID := uuid.New().String()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.processor(ctx, documentID); err != nil {
			d.logger.WithFields(logrus.Fields{
				"job_id": jobID,
				"doc_id": documentID,
			}).WithError(err).Error("Document processing failed")
		}
	}()

	return jobID, nil
}

// Close 等待所有在途任务结束
func (d *InlineDispatcher) Close() error {
	d.wg.Wait()
	return nil
}
