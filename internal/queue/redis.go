package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// TypeProcessDocument 文档处理任务类型
const TypeProcessDocument = "document:process"

// processPayload 文档处理任务载荷
type processPayload struct {
	DocumentID string `json:"document_id"`
}

// Config Redis队列配置
type Config struct {
	RedisAddr      string        // Redis地址
	RedisPassword  string        // Redis密码
	RedisDB        int           // Redis数据库
	RetryLimit     int           // 任务最大重试次数
	RetryDelay     time.Duration // 重试延迟
	ProcessTimeout time.Duration // 单个任务的处理超时
}

// DefaultConfig 返回默认队列配置
func DefaultConfig() *Config {
	return &Config{
		RedisAddr:      "localhost:6379",
		RetryLimit:     3,
		RetryDelay:     time.Minute,
		ProcessTimeout: 10 * time.Minute,
	}
}

func (c *Config) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// RedisDispatcher 基于asynq的任务派发器
// 任务落到Redis，进程重启不丢在途文档
type RedisDispatcher struct {
	client *asynq.Client
	cfg    *Config
	logger *logrus.Logger
}

// NewRedisDispatcher 创建Redis任务派发器
func NewRedisDispatcher(cfg *Config, logger *logrus.Logger) (*RedisDispatcher, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	client := asynq.NewClient(cfg.redisOpt())
	if err := client.Ping(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisDispatcher{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Dispatch 将文档处理任务加入队列
func (d *RedisDispatcher) Dispatch(ctx context.Context, documentID string) (string, error) {
	payload, err := json.Marshal(processPayload{DocumentID: documentID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TypeProcessDocument, payload)
	info, err := d.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(d.cfg.RetryLimit),
		asynq.Timeout(d.cfg.ProcessTimeout),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"task_id": info.ID,
		"doc_id":  documentID,
		"queue":   info.Queue,
	}).Info("Document processing task enqueued")

	return info.ID, nil
}

// Close 关闭队列连接
func (d *RedisDispatcher) Close() error {
	return d.client.Close()
}

// Worker 文档处理任务的执行器
// 并发度固定为1，同一时间只有一个文档在做顺序向量化
type Worker struct {
	server    *asynq.Server
	processor Processor
	logger    *logrus.Logger
}

// NewWorker 创建任务执行器
func NewWorker(cfg *Config, processor Processor, logger *logrus.Logger) *Worker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	server := asynq.NewServer(cfg.redisOpt(), asynq.Config{
		Concurrency: 1,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return cfg.RetryDelay
		},
		Logger: logger,
	})

	return &Worker{
		server:    server,
		processor: processor,
		logger:    logger,
	}
}

// Start 启动执行器，开始消费队列
func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeProcessDocument, w.handleProcessDocument)
	return w.server.Start(mux)
}

// Stop 停止执行器
func (w *Worker) Stop() {
	w.server.Shutdown()
}

func (w *Worker) handleProcessDocument(ctx context.Context, task *asynq.Task) error {
	var payload processPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// 载荷损坏的任务重试没有意义
		return fmt.Errorf("invalid task payload: %v: %w", err, asynq.SkipRetry)
	}

	w.logger.WithField("doc_id", payload.DocumentID).Info("Processing document task")
	return w.processor(ctx, payload.DocumentID)
}
