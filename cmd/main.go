package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/raglite/doc-retrieval-system/api"
	"github.com/raglite/doc-retrieval-system/api/handler"
	"github.com/raglite/doc-retrieval-system/api/middleware"
	appconfig "github.com/raglite/doc-retrieval-system/config"
	"github.com/raglite/doc-retrieval-system/internal/cache"
	"github.com/raglite/doc-retrieval-system/internal/database"
	"github.com/raglite/doc-retrieval-system/internal/embedding"
	"github.com/raglite/doc-retrieval-system/internal/llm"
	"github.com/raglite/doc-retrieval-system/internal/queue"
	"github.com/raglite/doc-retrieval-system/internal/repository"
	"github.com/raglite/doc-retrieval-system/internal/segmenter"
	"github.com/raglite/doc-retrieval-system/internal/services"
	"github.com/raglite/doc-retrieval-system/internal/vectordb"
	"github.com/raglite/doc-retrieval-system/pkg/storage"
)

func main() {
	// .env中的密钥在配置加载前生效
	_ = godotenv.Load()

	configFile := flag.String("config", "", "Path to config file")
	mode := flag.String("mode", "release", "Run mode (debug/release)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	flag.Parse()

	cfg, err := appconfig.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	gin.SetMode(*mode)

	logger := setupLogger(cfg.Logging)
	logger.Info("Starting document retrieval system...")

	if err := setupDatabase(cfg.Database, logger); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}

	fileStorage, err := setupStorage(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	vectorDB, err := setupVectorDB(cfg.VectorDB, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize vector database: %v", err)
	}
	defer vectorDB.Close()

	embeddingClient, err := setupEmbedding(cfg.Embed, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize embedding client: %v", err)
	}

	llmClient, err := setupLLM(cfg.LLM)
	if err != nil {
		logger.Fatalf("Failed to initialize LLM client: %v", err)
	}

	cacheService, err := setupCache(cfg.Cache)
	if err != nil {
		logger.Fatalf("Failed to initialize cache: %v", err)
	}

	seg := segmenter.NewSegmenter(segmenterConfig(cfg.Chunking))

	ragService := llm.NewRAG(llmClient,
		llm.WithRAGMaxTokens(cfg.LLM.MaxTokens),
		llm.WithRAGTemperature(cfg.LLM.Temperature),
	)

	repo := repository.NewDocumentRepository()
	statusManager := services.NewDocumentStatusManager(repo, logger)

	documentService := services.NewDocumentService(
		services.WithStorage(fileStorage),
		services.WithSegmenter(seg),
		services.WithEmbedder(embeddingClient),
		services.WithVectorDB(vectorDB),
		services.WithDocumentRepository(repo),
		services.WithStatusManager(statusManager),
		services.WithAnswerCache(cacheService),
		services.WithLogger(logger),
	)

	qaService := services.NewQAService(
		services.WithQAEmbedder(embeddingClient),
		services.WithQAVectorDB(vectorDB),
		services.WithRAGService(ragService),
		services.WithQACache(cacheService),
		services.WithTopK(cfg.Search.Limit),
		services.WithMinScore(cfg.Search.MinScore),
		services.WithCacheTTL(time.Duration(cfg.Cache.TTL)*time.Second),
		services.WithQALogger(logger),
	)

	dispatcher, worker, err := setupQueue(cfg.Queue, documentService.ProcessDocument, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize task queue: %v", err)
	}
	defer dispatcher.Close()

	if worker != nil {
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start task worker: %v", err)
		}
		defer worker.Stop()
	}

	docHandler := handler.NewDocumentHandler(documentService, dispatcher)
	qaHandler := handler.NewQAHandler(qaService)

	router := api.SetupRouter(docHandler, qaHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// setupLogger 设置日志系统
// 配置了日志文件时同时输出到滚动文件和标准输出
func setupLogger(cfg appconfig.LoggingConfig) *logrus.Logger {
	logger := middleware.GetLogger()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	return logger
}

// setupDatabase 设置元数据数据库
func setupDatabase(cfg appconfig.DatabaseConfig, logger *logrus.Logger) error {
	dbConfig := database.DefaultConfig()
	dbConfig.Type = cfg.Type
	dbConfig.DSN = cfg.DSN

	return database.Setup(dbConfig, logger)
}

// setupStorage 设置文件存储服务
func setupStorage(cfg appconfig.StorageConfig) (storage.Storage, error) {
	if cfg.Type == "minio" {
		return storage.NewMinioStorage(storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %v", err)
	}
	return storage.NewLocalStorage(storage.LocalConfig{Path: cfg.Path})
}

// setupVectorDB 设置向量仓库
// faiss初始化失败时回退到内存实现，保证服务可用
func setupVectorDB(cfg appconfig.VectorDBConfig, logger *logrus.Logger) (vectordb.Repository, error) {
	vdbConfig := vectordb.Config{
		Type:              cfg.Type,
		Path:              cfg.Path,
		Dimension:         cfg.Dim,
		DistanceType:      vectordb.DistanceType(cfg.Distance),
		CreateIfNotExists: true,
	}

	if cfg.Type == "faiss" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create vector database directory: %v", err)
		}
	}

	repo, err := vectordb.NewRepository(vdbConfig)
	if err != nil {
		if cfg.Type == "memory" {
			return nil, err
		}
		logger.Warnf("Failed to initialize %s vector database: %v, falling back to in-memory", cfg.Type, err)
		return vectordb.NewRepository(vectordb.Config{
			Type:         "memory",
			Dimension:    cfg.Dim,
			DistanceType: vectordb.DistanceType(cfg.Distance),
		})
	}

	return repo, nil
}

// setupEmbedding 设置嵌入模型客户端
func setupEmbedding(cfg appconfig.EmbedConfig, logger *logrus.Logger) (embedding.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}

	opts := []embedding.Option{
		embedding.WithAPIKey(cfg.APIKey),
		embedding.WithModel(cfg.Model),
		embedding.WithDimensions(cfg.Dimensions),
		embedding.WithMaxRetries(cfg.MaxRetries),
		embedding.WithRetryDelay(time.Duration(cfg.RetryDelay) * time.Second),
		embedding.WithLogger(logger),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, embedding.WithBaseURL(cfg.Endpoint))
	}

	return embedding.NewClient(cfg.Provider, opts...)
}

// setupLLM 设置大语言模型客户端
func setupLLM(cfg appconfig.LLMConfig) (llm.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required")
	}

	opts := []llm.Option{
		llm.WithAPIKey(cfg.APIKey),
		llm.WithModel(cfg.Model),
		llm.WithMaxTokens(cfg.MaxTokens),
		llm.WithTemperature(cfg.Temperature),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, llm.WithBaseURL(cfg.Endpoint))
	}

	return llm.NewClient(cfg.Provider, opts...)
}

// setupQueue 设置后台任务队列
// redis模式下任务落盘可恢复，worker并发度为1以保持顺序向量化
func setupQueue(cfg appconfig.QueueConfig, processor queue.Processor, logger *logrus.Logger) (queue.Dispatcher, *queue.Worker, error) {
	if cfg.Type != "redis" {
		return queue.NewInlineDispatcher(processor, 10*time.Minute, logger), nil, nil
	}

	queueConfig := queue.DefaultConfig()
	queueConfig.RedisAddr = cfg.Address
	queueConfig.RedisPassword = cfg.Password
	queueConfig.RedisDB = cfg.DB
	if cfg.RetryLimit > 0 {
		queueConfig.RetryLimit = cfg.RetryLimit
	}

	dispatcher, err := queue.NewRedisDispatcher(queueConfig, logger)
	if err != nil {
		return nil, nil, err
	}

	return dispatcher, queue.NewWorker(queueConfig, processor, logger), nil
}

// setupCache 设置缓存服务
func setupCache(cfg appconfig.CacheConfig) (cache.Cache, error) {
	if !cfg.Enable {
		return nil, nil
	}

	cacheConfig := cache.Config{
		Type:            cfg.Type,
		DefaultTTL:      time.Duration(cfg.TTL) * time.Second,
		CleanupInterval: 10 * time.Minute,
	}
	if cfg.Type == "redis" {
		cacheConfig.RedisAddr = cfg.Address
		cacheConfig.RedisPassword = cfg.Password
		cacheConfig.RedisDB = cfg.DB
	}

	return cache.NewCache(cacheConfig)
}

// segmenterConfig 将应用配置转换为分段器配置
func segmenterConfig(cfg appconfig.ChunkingConfig) segmenter.Config {
	config := segmenter.DefaultConfig()
	if cfg.ChunkSize > 0 {
		config.ChunkSize = cfg.ChunkSize
	}
	if cfg.ChunkOverlap >= 0 {
		config.Overlap = cfg.ChunkOverlap
	}
	if cfg.CharsPerToken > 0 {
		config.CharsPerToken = cfg.CharsPerToken
	}
	if cfg.ParaFrac > 0 {
		config.ParaFrac = cfg.ParaFrac
	}
	if cfg.SentenceFrac > 0 {
		config.SentenceFrac = cfg.SentenceFrac
	}
	if cfg.PunctFrac > 0 {
		config.PunctFrac = cfg.PunctFrac
	}
	if cfg.NewlineFrac > 0 {
		config.NewlineFrac = cfg.NewlineFrac
	}
	if cfg.SpaceFrac > 0 {
		config.SpaceFrac = cfg.SpaceFrac
	}
	return config
}
