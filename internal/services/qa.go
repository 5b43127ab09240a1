package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raglite/doc-retrieval-system/internal/cache"
	"github.com/raglite/doc-retrieval-system/internal/embedding"
	"github.com/raglite/doc-retrieval-system/internal/llm"
	"github.com/raglite/doc-retrieval-system/internal/models"
	"github.com/raglite/doc-retrieval-system/internal/vectordb"
)

// qaCachePrefix 问答缓存键前缀
const qaCachePrefix = "qa"

// QAService 问答服务
// 将查询向量化后在向量库中检索，再交给大模型生成带引用的回答
type QAService struct {
	embedder embedding.Client
	vectorDB vectordb.Repository
	rag      *llm.RAGService
	cache    cache.Cache
	topK     int
	minScore float32
	cacheTTL time.Duration
	logger   *logrus.Logger
}

// QAOption 问答服务配置选项
type QAOption func(*QAService)

// WithQAEmbedder 设置查询向量化客户端
func WithQAEmbedder(client embedding.Client) QAOption {
	return func(s *QAService) {
		s.embedder = client
	}
}

// WithQAVectorDB 设置向量数据库
func WithQAVectorDB(db vectordb.Repository) QAOption {
	return func(s *QAService) {
		s.vectorDB = db
	}
}

// WithRAGService 设置检索增强生成服务
func WithRAGService(rag *llm.RAGService) QAOption {
	return func(s *QAService) {
		s.rag = rag
	}
}

// WithQACache 设置回答缓存
func WithQACache(c cache.Cache) QAOption {
	return func(s *QAService) {
		s.cache = c
	}
}

// WithTopK 设置检索结果数量上限
func WithTopK(topK int) QAOption {
	return func(s *QAService) {
		if topK > 0 {
			s.topK = topK
		}
	}
}

// WithMinScore 设置相似度阈值
func WithMinScore(minScore float32) QAOption {
	return func(s *QAService) {
		s.minScore = minScore
	}
}

// WithCacheTTL 设置缓存过期时间
func WithCacheTTL(ttl time.Duration) QAOption {
	return func(s *QAService) {
		s.cacheTTL = ttl
	}
}

// WithQALogger 设置日志记录器
func WithQALogger(logger *logrus.Logger) QAOption {
	return func(s *QAService) {
		s.logger = logger
	}
}

// NewQAService 创建问答服务
func NewQAService(opts ...QAOption) *QAService {
	filter := vectordb.DefaultSearchFilter()
	svc := &QAService{
		topK:     filter.MaxResults,
		minScore: filter.MinScore,
		cacheTTL: 30 * time.Minute,
		logger:   logrus.New(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

// Retrieve 将查询向量化并在向量库中检索相似分块
// 结果按得分降序排列，得分相同时按分块序号和创建时间升序
func (s *QAService) Retrieve(ctx context.Context, query string, documentIDs ...string) ([]vectordb.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("embedding client not configured")
	}
	if s.vectorDB == nil {
		return nil, fmt.Errorf("vector repository not configured")
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	filter := vectordb.SearchFilter{
		DocumentIDs: documentIDs,
		MinScore:    s.minScore,
		MaxResults:  s.topK,
	}

	results, err := s.vectorDB.Search(vector, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"query_len": len(query),
		"results":   len(results),
	}).Debug("Retrieval completed")

	return results, nil
}

// Answer 回答问题，检索不到相关内容时返回固定的无答案文案
func (s *QAService) Answer(ctx context.Context, question string) (*llm.RAGResponse, error) {
	return s.answer(ctx, question, nil)
}

// AnswerWithDocument 限定在单个文档范围内回答问题
func (s *QAService) AnswerWithDocument(ctx context.Context, question string, docID string) (*llm.RAGResponse, error) {
	if _, err := models.ParseDocumentID(docID); err != nil {
		return nil, err
	}
	return s.answer(ctx, question, []string{docID})
}

func (s *QAService) answer(ctx context.Context, question string, documentIDs []string) (*llm.RAGResponse, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, llm.NewLLMError(llm.ErrCodeEmptyPrompt, "question cannot be empty")
	}
	if s.rag == nil {
		return nil, fmt.Errorf("rag service not configured")
	}

	cacheKey := s.cacheKey(question, documentIDs)
	if cached, ok := s.getCached(cacheKey); ok {
		return cached, nil
	}

	results, err := s.Retrieve(ctx, question, documentIDs...)
	if err != nil {
		return nil, err
	}

	contents := make([]string, 0, len(results))
	sources := make([]llm.SourceReference, 0, len(results))
	for _, result := range results {
		contents = append(contents, result.Chunk.Content)
		sources = append(sources, llm.BuildSourceReference(
			result.Chunk.DocumentID,
			result.Chunk.FileName,
			chunkCategory(result.Chunk),
			result.Chunk.Index,
			result.Score,
			result.Chunk.Content,
		))
	}

	response, err := s.rag.Answer(ctx, question, contents, sources)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"question_len": len(question),
			"retryable":    llm.IsRetryable(err),
		}).WithError(err).Error("Answer generation failed")
		return nil, err
	}

	s.setCached(cacheKey, response)
	return response, nil
}

// cacheKey 计算问答缓存键，限定文档时带上文档ID
func (s *QAService) cacheKey(question string, documentIDs []string) string {
	if len(documentIDs) > 0 {
		question = strings.Join(documentIDs, ",") + "|" + question
	}
	return cache.QueryCacheKey(qaCachePrefix, question, s.topK, s.minScore)
}

func (s *QAService) getCached(key string) (*llm.RAGResponse, bool) {
	if s.cache == nil {
		return nil, false
	}

	value, found, err := s.cache.Get(key)
	if err != nil {
		s.logger.WithError(err).Warn("Cache lookup failed")
		return nil, false
	}
	if !found {
		return nil, false
	}

	var response llm.RAGResponse
	if err := json.Unmarshal([]byte(value), &response); err != nil {
		s.logger.WithError(err).Warn("Failed to decode cached answer")
		return nil, false
	}

	s.logger.WithField("key", key).Debug("Answer cache hit")
	return &response, true
}

func (s *QAService) setCached(key string, response *llm.RAGResponse) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(response)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to encode answer for cache")
		return
	}

	if err := s.cache.Set(key, string(data), s.cacheTTL); err != nil {
		s.logger.WithError(err).Warn("Failed to cache answer")
	}
}

// ClearCache 清空问答缓存
func (s *QAService) ClearCache() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear()
}

// chunkCategory 从分块元数据里取来源类别，缺省归为document
func chunkCategory(chunk vectordb.Chunk) string {
	if chunk.Metadata != nil {
		if category, ok := chunk.Metadata["category"].(string); ok && category != "" {
			return category
		}
	}
	return "document"
}
