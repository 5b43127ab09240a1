package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raglite/doc-retrieval-system/internal/cache"
	"github.com/raglite/doc-retrieval-system/internal/document"
	"github.com/raglite/doc-retrieval-system/internal/embedding"
	"github.com/raglite/doc-retrieval-system/internal/models"
	"github.com/raglite/doc-retrieval-system/internal/repository"
	"github.com/raglite/doc-retrieval-system/internal/segmenter"
	"github.com/raglite/doc-retrieval-system/internal/vectordb"
	"github.com/raglite/doc-retrieval-system/pkg/storage"
)

// DocumentService 文档服务
// 负责文档的上传、解析、分段、向量化和删除的完整流水线
type DocumentService struct {
	storage       storage.Storage
	segmenter     *segmenter.Segmenter
	embedder      embedding.Client
	vectorDB      vectordb.Repository
	repo          repository.DocumentRepository
	statusManager *DocumentStatusManager
	answerCache   cache.Cache
	timeout       time.Duration
	logger        *logrus.Logger
}

// DocumentOption 文档服务配置选项
type DocumentOption func(*DocumentService)

// WithStorage 设置存储后端
func WithStorage(s storage.Storage) DocumentOption {
	return func(svc *DocumentService) {
		svc.storage = s
	}
}

// WithSegmenter 设置文本分段器
func WithSegmenter(seg *segmenter.Segmenter) DocumentOption {
	return func(svc *DocumentService) {
		svc.segmenter = seg
	}
}

// WithEmbedder 设置向量化客户端
func WithEmbedder(client embedding.Client) DocumentOption {
	return func(svc *DocumentService) {
		svc.embedder = client
	}
}

// WithVectorDB 设置向量数据库
func WithVectorDB(db vectordb.Repository) DocumentOption {
	return func(svc *DocumentService) {
		svc.vectorDB = db
	}
}

// WithDocumentRepository 设置文档仓储
func WithDocumentRepository(repo repository.DocumentRepository) DocumentOption {
	return func(svc *DocumentService) {
		svc.repo = repo
	}
}

// WithStatusManager 设置状态管理器
func WithStatusManager(m *DocumentStatusManager) DocumentOption {
	return func(svc *DocumentService) {
		svc.statusManager = m
	}
}

// WithAnswerCache 设置问答缓存
// 文档内容变化时旧答案随之失效
func WithAnswerCache(c cache.Cache) DocumentOption {
	return func(svc *DocumentService) {
		svc.answerCache = c
	}
}

// WithProcessTimeout 设置单文档处理超时
func WithProcessTimeout(timeout time.Duration) DocumentOption {
	return func(svc *DocumentService) {
		svc.timeout = timeout
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) DocumentOption {
	return func(svc *DocumentService) {
		svc.logger = logger
	}
}

// NewDocumentService 创建文档服务
func NewDocumentService(opts ...DocumentOption) *DocumentService {
	svc := &DocumentService{
		timeout: 5 * time.Minute,
		logger:  logrus.New(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	svc.init()
	return svc
}

// init 填充缺失的依赖默认值
func (s *DocumentService) init() {
	if s.segmenter == nil {
		s.segmenter = segmenter.NewSegmenter(segmenter.DefaultConfig())
	}
	if s.repo == nil {
		s.repo = repository.NewDocumentRepository()
	}
	if s.statusManager == nil {
		s.statusManager = NewDocumentStatusManager(s.repo, s.logger)
	}
}

// UploadDocument 保存上传的文件并创建文档记录
// 返回新文档的ID，后续处理由ProcessDocument完成
func (s *DocumentService) UploadDocument(ctx context.Context, reader io.Reader, fileName string) (string, error) {
	if s.storage == nil {
		return "", fmt.Errorf("storage backend not configured")
	}

	if _, err := document.ParserFactory(fileName); err != nil {
		return "", fmt.Errorf("unsupported document type: %w", err)
	}

	docID := models.NewDocumentID()
	obj, err := s.storage.Put(ctx, docID, fileName, reader)
	if err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	if err := s.statusManager.MarkAsUploaded(ctx, docID, fileName, obj.Key, obj.Size); err != nil {
		// 记录创建失败时清理已保存的文件
		if delErr := s.storage.Remove(ctx, docID); delErr != nil {
			s.logger.WithError(delErr).Warn("Failed to clean up stored file after record creation failure")
		}
		return "", fmt.Errorf("failed to create document record: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"doc_id":   docID,
		"filename": fileName,
		"size":     obj.Size,
	}).Info("Document uploaded")

	return docID, nil
}

// ProcessDocument 处理指定文档：解析、分段、写入向量库并向量化
// 分段写入成功即视为摄取成功，向量化失败只影响已嵌入计数
func (s *DocumentService) ProcessDocument(ctx context.Context, docID string) error {
	if _, err := models.ParseDocumentID(docID); err != nil {
		return err
	}

	doc, err := s.statusManager.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	if err := s.statusManager.MarkAsProcessing(ctx, docID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// 阶段一：解析
	if err := s.statusManager.MarkStage(ctx, docID, models.StageParsing); err != nil {
		return s.failDocument(ctx, docID, err)
	}

	text, err := s.parseDocument(ctx, doc)
	if err != nil {
		return s.failDocument(ctx, docID, fmt.Errorf("failed to parse document: %w", err))
	}

	if err := s.statusManager.UpdateProgress(ctx, docID, 20); err != nil {
		s.logger.WithError(err).Warn("Failed to update progress")
	}

	return s.IngestText(ctx, docID, doc.FileName, text)
}

// IngestText 将纯文本分段、写入向量库并向量化
// 同一文档重复摄取时旧分段被整体替换
func (s *DocumentService) IngestText(ctx context.Context, docID string, fileName string, text string) error {
	if _, err := models.ParseDocumentID(docID); err != nil {
		return err
	}

	doc, err := s.statusManager.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc.Status != models.DocStatusProcessing {
		if err := s.statusManager.MarkAsProcessing(ctx, docID); err != nil {
			return err
		}
	}

	// 阶段二：分段
	if err := s.statusManager.MarkStage(ctx, docID, models.StageChunking); err != nil {
		return s.failDocument(ctx, docID, err)
	}

	spans := s.segmenter.Segment(segmenter.Normalize(text))
	if len(spans) == 0 {
		return s.failDocument(ctx, docID, fmt.Errorf("document produced no segments"))
	}

	chunks := make([]vectordb.Chunk, 0, len(spans))
	now := time.Now()
	for i, span := range spans {
		chunks = append(chunks, vectordb.Chunk{
			ID:         models.NewChunkID(docID, i),
			DocumentID: docID,
			FileName:   fileName,
			Index:      i,
			Content:    span.Text,
			Start:      span.Start,
			End:        span.End,
			CreatedAt:  now,
			Metadata: map[string]interface{}{
				"document_filename": fileName,
				"category":          "document",
			},
		})
	}

	// 同一文档的旧分段在写入时被整体替换
	if err := s.vectorDB.AddBatch(chunks); err != nil {
		return s.failDocument(ctx, docID, fmt.Errorf("failed to store segments: %w", err))
	}
	s.invalidateAnswers(docID)

	if err := s.statusManager.UpdateProgress(ctx, docID, 40); err != nil {
		s.logger.WithError(err).Warn("Failed to update progress")
	}

	s.logger.WithFields(logrus.Fields{
		"doc_id":   docID,
		"segments": len(chunks),
	}).Info("Document segments stored")

	// 阶段三：向量化
	// 向量化失败不回滚已写入的分段，文档仍按完成处理
	if err := s.statusManager.MarkStage(ctx, docID, models.StageEmbedding); err != nil {
		return s.failDocument(ctx, docID, err)
	}

	embeddedCount := s.embedChunks(ctx, docID, chunks)

	if err := s.statusManager.MarkAsCompleted(ctx, docID, len(chunks), embeddedCount); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"doc_id":   docID,
		"embedded": embeddedCount,
		"total":    len(chunks),
	}).Infof("Document processed: embedded %d of %d segments", embeddedCount, len(chunks))

	return nil
}

// embedChunks 顺序向量化分段并写回向量库
// 返回成功嵌入的分段数量
func (s *DocumentService) embedChunks(ctx context.Context, docID string, chunks []vectordb.Chunk) int {
	if s.embedder == nil {
		s.logger.WithField("doc_id", docID).Warn("No embedding client configured, skipping embedding")
		return 0
	}

	items := make([]embedding.BatchItem, 0, len(chunks))
	for _, chunk := range chunks {
		items = append(items, embedding.BatchItem{
			ID:   chunk.ID,
			Text: chunk.Content,
		})
	}

	processor := embedding.NewBatchProcessor(s.embedder, s.logger)
	embedded, err := processor.Process(ctx, items, func(id string, vector []float32) error {
		return s.vectorDB.SetEmbedding(id, vector)
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"doc_id":   docID,
			"embedded": embedded,
			"total":    len(items),
		}).WithError(err).Warn("Embedding halted before all segments were processed")
	}

	return embedded
}

// parseDocument 从存储读取文件内容并解析为纯文本
func (s *DocumentService) parseDocument(ctx context.Context, doc *models.Document) (string, error) {
	parser, err := document.ParserFactory(doc.FileName)
	if err != nil {
		return "", err
	}

	reader, err := s.openDocument(ctx, doc)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	parsed, err := parser.ParseReader(reader, doc.FileName)
	if err != nil {
		return "", err
	}

	return parsed, nil
}

// openDocument 打开文档内容
// 存储对象以文档ID为键，查不到时回退到记录里的本地路径
func (s *DocumentService) openDocument(ctx context.Context, doc *models.Document) (io.ReadCloser, error) {
	if s.storage != nil {
		reader, err := s.storage.Open(ctx, doc.ID)
		if err == nil {
			return reader, nil
		}
		s.logger.WithField("doc_id", doc.ID).WithError(err).Debug("Storage lookup failed, falling back to local path")
	}

	file, err := os.Open(doc.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open document file: %w", err)
	}
	return file, nil
}

// invalidateAnswers 按前缀清除缓存的问答结果
// 分段变化后旧答案可能引用已被替换的内容
func (s *DocumentService) invalidateAnswers(docID string) {
	if s.answerCache == nil {
		return
	}
	if err := s.answerCache.DeleteByPrefix(qaCachePrefix); err != nil {
		s.logger.WithField("doc_id", docID).WithError(err).Warn("Failed to invalidate cached answers")
	}
}

// failDocument 将文档标记为失败并返回原始错误
func (s *DocumentService) failDocument(ctx context.Context, docID string, cause error) error {
	if err := s.statusManager.MarkAsFailed(ctx, docID, cause.Error()); err != nil {
		s.logger.WithField("doc_id", docID).WithError(err).Error("Failed to mark document as failed")
	}
	return cause
}

// DeleteDocument 删除文档及其所有分段和文件
func (s *DocumentService) DeleteDocument(ctx context.Context, docID string) error {
	if _, err := models.ParseDocumentID(docID); err != nil {
		return err
	}

	_, err := s.statusManager.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	if s.vectorDB != nil {
		if err := s.vectorDB.DeleteByDocumentID(docID); err != nil {
			return fmt.Errorf("failed to delete document segments: %w", err)
		}
		s.invalidateAnswers(docID)
	}

	if s.storage != nil {
		if err := s.storage.Remove(ctx, docID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			// 文件可能已被手工清理，不阻塞记录删除
			s.logger.WithField("doc_id", docID).WithError(err).Warn("Failed to delete stored file")
		}
	}

	if err := s.statusManager.DeleteDocument(ctx, docID); err != nil {
		return err
	}

	s.logger.WithField("doc_id", docID).Info("Document deleted")
	return nil
}

// GetDocumentStatus 查询文档状态
func (s *DocumentService) GetDocumentStatus(ctx context.Context, docID string) (models.DocumentStatus, error) {
	if _, err := models.ParseDocumentID(docID); err != nil {
		return "", err
	}
	return s.statusManager.GetStatus(ctx, docID)
}

// GetDocumentInfo 查询文档详情
func (s *DocumentService) GetDocumentInfo(ctx context.Context, docID string) (map[string]interface{}, error) {
	if _, err := models.ParseDocumentID(docID); err != nil {
		return nil, err
	}

	doc, err := s.statusManager.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	info := map[string]interface{}{
		"id":             doc.ID,
		"filename":       doc.FileName,
		"file_type":      doc.FileType,
		"file_size":      doc.FileSize,
		"status":         doc.Status,
		"stage":          doc.CurrentStage,
		"progress":       doc.Progress,
		"segment_count":  doc.SegmentCount,
		"embedded_count": doc.EmbeddedCount,
		"tags":           doc.Tags,
		"uploaded_at":    doc.UploadedAt,
		"updated_at":     doc.UpdatedAt,
	}
	if doc.ProcessedAt != nil {
		info["processed_at"] = *doc.ProcessedAt
	}
	if doc.Error != "" {
		info["error"] = doc.Error
	}

	return info, nil
}

// ListDocuments 分页列出文档
func (s *DocumentService) ListDocuments(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Document, int64, error) {
	return s.statusManager.ListDocuments(ctx, offset, limit, filters)
}

// UpdateDocumentTags 更新文档标签
func (s *DocumentService) UpdateDocumentTags(ctx context.Context, docID string, tags []string) error {
	if _, err := models.ParseDocumentID(docID); err != nil {
		return err
	}

	doc, err := s.statusManager.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	doc.Tags = strings.Join(tags, ",")
	doc.UpdatedAt = time.Now()
	return s.repo.WithContext(ctx).Update(doc)
}

// GetStatusManager 返回状态管理器，供接口层直接查询状态
func (s *DocumentService) GetStatusManager() *DocumentStatusManager {
	return s.statusManager
}
