package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/raglite/doc-retrieval-system/internal/cache"
	"github.com/raglite/doc-retrieval-system/internal/database"
	"github.com/raglite/doc-retrieval-system/internal/embedding"
	"github.com/raglite/doc-retrieval-system/internal/models"
	"github.com/raglite/doc-retrieval-system/internal/vectordb"
	"github.com/raglite/doc-retrieval-system/pkg/storage"
)

const testDimension = 8

// fakeEmbedder 测试用嵌入客户端
// 可配置在若干次成功后返回指定错误
type fakeEmbedder struct {
	dim       int
	calls     int
	failAfter int   // 成功次数上限，0表示不限
	failWith  error // 超过上限后返回的错误
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.failAfter > 0 && f.calls > f.failAfter {
		return nil, f.failWith
	}

	vector := make([]float32, f.dim)
	for i := range vector {
		vector[i] = float32(len(text)%7+i) * 0.1
	}
	return vector, nil
}

func (f *fakeEmbedder) Name() string {
	return "fake-embedder"
}

func setupServiceTestDB(t *testing.T) func() {
	dbName := fmt.Sprintf("file:svcdb_%d?mode=memory", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")

	err = db.AutoMigrate(&models.Document{})
	require.NoError(t, err, "Failed to run migrations")

	originalDB := database.DB
	database.DB = db

	return func() {
		database.DB = originalDB
	}
}

func newTestDocumentService(t *testing.T, embedder embedding.Client) (*DocumentService, vectordb.Repository) {
	localStorage, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err, "Failed to create local storage")

	vectorRepo, err := vectordb.NewMemoryRepository(vectordb.Config{
		Type:      "memory",
		Dimension: testDimension,
	})
	require.NoError(t, err, "Failed to create memory repository")

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	svc := NewDocumentService(
		WithStorage(localStorage),
		WithEmbedder(embedder),
		WithVectorDB(vectorRepo),
		WithLogger(logger),
	)
	return svc, vectorRepo
}

// largeTestDocument 生成足以切出多个分段的文本
func largeTestDocument(paragraphs int) string {
	var builder strings.Builder
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&builder, "Paragraph %d discusses document retrieval. ", i)
		builder.WriteString(strings.Repeat("Vector search matches semantically similar text. ", 20))
		builder.WriteString("\n\n")
	}
	return builder.String()
}

func TestUploadAndProcessDocument(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	embedder := &fakeEmbedder{dim: testDimension}
	svc, vectorRepo := newTestDocumentService(t, embedder)
	ctx := context.Background()

	docID, err := svc.UploadDocument(ctx, strings.NewReader(largeTestDocument(5)), "guide.txt")
	require.NoError(t, err, "Upload should succeed")

	status, err := svc.GetDocumentStatus(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusUploaded, status)

	err = svc.ProcessDocument(ctx, docID)
	require.NoError(t, err, "Processing should succeed")

	info, err := svc.GetDocumentInfo(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, info["status"])
	assert.Equal(t, models.StageCompleted, info["stage"])
	assert.Equal(t, 100, info["progress"])

	segmentCount := info["segment_count"].(int)
	assert.Greater(t, segmentCount, 1, "Large document should produce multiple segments")
	assert.Equal(t, segmentCount, info["embedded_count"], "All segments should be embedded")

	count, err := vectorRepo.Count()
	require.NoError(t, err)
	assert.Equal(t, segmentCount, count)

	missing, err := vectorRepo.MissingEmbedding(docID)
	require.NoError(t, err)
	assert.Empty(t, missing, "No segments should be waiting for embeddings")

	// 分块ID是确定性的
	chunk, err := vectorRepo.Get(models.NewChunkID(docID, 0))
	require.NoError(t, err)
	assert.Equal(t, docID, chunk.DocumentID)
	assert.Equal(t, "guide.txt", chunk.FileName)
	assert.Equal(t, 0, chunk.Index)
	assert.True(t, chunk.HasEmbedding())
}

func TestProcessDocumentQuotaHalt(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	embedder := &fakeEmbedder{
		dim:       testDimension,
		failAfter: 1,
		failWith:  embedding.NewEmbeddingError(embedding.ErrCodeQuotaExceeded, embedding.ErrMsgQuotaExceeded),
	}
	svc, vectorRepo := newTestDocumentService(t, embedder)
	ctx := context.Background()

	docID, err := svc.UploadDocument(ctx, strings.NewReader(largeTestDocument(6)), "quota.txt")
	require.NoError(t, err)

	// 配额耗尽中止向量化，但摄取本身算成功
	err = svc.ProcessDocument(ctx, docID)
	require.NoError(t, err, "Quota exhaustion should not fail ingestion")

	info, err := svc.GetDocumentInfo(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, info["status"])

	segmentCount := info["segment_count"].(int)
	embeddedCount := info["embedded_count"].(int)
	assert.Greater(t, segmentCount, 1)
	assert.Equal(t, 1, embeddedCount, "Only the first segment should be embedded")

	missing, err := vectorRepo.MissingEmbedding(docID)
	require.NoError(t, err)
	assert.Len(t, missing, segmentCount-1, "Remaining segments should still be queryable as missing")
}

func TestProcessDocumentReingest(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	embedder := &fakeEmbedder{dim: testDimension}
	svc, vectorRepo := newTestDocumentService(t, embedder)
	ctx := context.Background()

	docID, err := svc.UploadDocument(ctx, strings.NewReader(largeTestDocument(4)), "repeat.txt")
	require.NoError(t, err)

	require.NoError(t, svc.ProcessDocument(ctx, docID))
	firstCount, err := vectorRepo.Count()
	require.NoError(t, err)

	// 重新处理同一文档会整体替换旧分块
	require.NoError(t, svc.ProcessDocument(ctx, docID))
	secondCount, err := vectorRepo.Count()
	require.NoError(t, err)
	assert.Equal(t, firstCount, secondCount, "Reprocessing should replace, not accumulate")

	info, err := svc.GetDocumentInfo(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, info["status"])
}

func TestProcessDocumentParseFailure(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	embedder := &fakeEmbedder{dim: testDimension}
	svc, _ := newTestDocumentService(t, embedder)
	ctx := context.Background()

	// 直接创建指向不存在文件的记录
	docID := models.NewDocumentID()
	err := svc.GetStatusManager().MarkAsUploaded(ctx, docID, "ghost.txt", "/nonexistent/ghost.txt", 10)
	require.NoError(t, err)

	err = svc.ProcessDocument(ctx, docID)
	require.Error(t, err, "Missing file should fail processing")

	info, err := svc.GetDocumentInfo(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusFailed, info["status"])
	assert.NotEmpty(t, info["error"], "Failure reason should be recorded")
}

func TestUploadUnsupportedType(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	embedder := &fakeEmbedder{dim: testDimension}
	svc, _ := newTestDocumentService(t, embedder)

	_, err := svc.UploadDocument(context.Background(), strings.NewReader("binary"), "report.pdf")
	assert.Error(t, err, "Unsupported file type should be rejected")
}

func TestDeleteDocument(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	embedder := &fakeEmbedder{dim: testDimension}
	svc, vectorRepo := newTestDocumentService(t, embedder)
	ctx := context.Background()

	docID, err := svc.UploadDocument(ctx, strings.NewReader(largeTestDocument(3)), "delete_me.txt")
	require.NoError(t, err)
	require.NoError(t, svc.ProcessDocument(ctx, docID))

	err = svc.DeleteDocument(ctx, docID)
	require.NoError(t, err)

	_, err = svc.GetDocumentInfo(ctx, docID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	count, err := vectorRepo.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count, "All segments should be removed")
}

func TestStatusTransitionRejected(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	embedder := &fakeEmbedder{dim: testDimension}
	svc, _ := newTestDocumentService(t, embedder)
	ctx := context.Background()

	docID, err := svc.UploadDocument(ctx, strings.NewReader("short note"), "tiny.txt")
	require.NoError(t, err)

	manager := svc.GetStatusManager()
	require.NoError(t, manager.MarkAsProcessing(ctx, docID))

	// 处理中的文档不能再次进入处理中
	err = manager.MarkAsProcessing(ctx, docID)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidDocumentStatus)

	var transitionErr models.StatusTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, docID, transitionErr.DocumentID)
	assert.Equal(t, models.DocStatusProcessing, transitionErr.From)
}

func TestProcessDocumentInvalidID(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	embedder := &fakeEmbedder{dim: testDimension}
	svc, _ := newTestDocumentService(t, embedder)

	err := svc.ProcessDocument(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrInvalidDocumentID)
}

func TestIngestInvalidatesCachedAnswers(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	embedder := &fakeEmbedder{dim: testDimension}
	svc, _ := newTestDocumentService(t, embedder)
	ctx := context.Background()

	answerCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)
	WithAnswerCache(answerCache)(svc)

	staleKey := cache.QueryCacheKey(qaCachePrefix, "什么是向量检索？", 5, 0.5)
	require.NoError(t, answerCache.Set(staleKey, `{"answer":"stale"}`, 0))
	require.NoError(t, answerCache.Set("embed:other", "untouched", 0))

	docID, err := svc.UploadDocument(ctx, strings.NewReader(largeTestDocument(2)), "fresh.txt")
	require.NoError(t, err)
	require.NoError(t, svc.ProcessDocument(ctx, docID))

	// 分段变化后缓存的问答结果被清除
	_, found, err := answerCache.Get(staleKey)
	require.NoError(t, err)
	assert.False(t, found, "Cached answers should be dropped after ingestion")

	val, found, err := answerCache.Get("embed:other")
	require.NoError(t, err)
	assert.True(t, found, "Other cache namespaces should survive")
	assert.Equal(t, "untouched", val)

	// 删除文档同样触发失效
	require.NoError(t, answerCache.Set(staleKey, `{"answer":"stale again"}`, 0))
	require.NoError(t, svc.DeleteDocument(ctx, docID))

	_, found, err = answerCache.Get(staleKey)
	require.NoError(t, err)
	assert.False(t, found, "Cached answers should be dropped after deletion")
}

func TestIngestText(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	embedder := &fakeEmbedder{dim: testDimension}
	svc, vectorRepo := newTestDocumentService(t, embedder)
	ctx := context.Background()

	docID, err := svc.UploadDocument(ctx, strings.NewReader(largeTestDocument(2)), "notes.txt")
	require.NoError(t, err)

	err = svc.IngestText(ctx, docID, "notes.txt", largeTestDocument(4))
	require.NoError(t, err, "Direct text ingestion should succeed")

	info, err := svc.GetDocumentInfo(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, info["status"])

	count, err := vectorRepo.Count()
	require.NoError(t, err)
	assert.Equal(t, info["segment_count"], count)

	// 摄取新文本后旧分段被整体替换
	err = svc.IngestText(ctx, docID, "notes.txt", largeTestDocument(1))
	require.NoError(t, err)

	newCount, err := vectorRepo.Count()
	require.NoError(t, err)
	assert.Less(t, newCount, count, "Re-ingestion should replace old segments")

	err = svc.IngestText(ctx, "not-a-uuid", "notes.txt", "text")
	assert.ErrorIs(t, err, models.ErrInvalidDocumentID)
}
