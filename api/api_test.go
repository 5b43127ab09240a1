package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/raglite/doc-retrieval-system/api/handler"
	"github.com/raglite/doc-retrieval-system/api/model"
	"github.com/raglite/doc-retrieval-system/internal/cache"
	"github.com/raglite/doc-retrieval-system/internal/database"
	"github.com/raglite/doc-retrieval-system/internal/llm"
	"github.com/raglite/doc-retrieval-system/internal/models"
	"github.com/raglite/doc-retrieval-system/internal/services"
	"github.com/raglite/doc-retrieval-system/internal/vectordb"
	"github.com/raglite/doc-retrieval-system/pkg/storage"
)

const testDim = 8

// constEmbedder 返回固定向量，保证检索必然命中
type constEmbedder struct{}

func (constEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vector := make([]float32, testDim)
	vector[0] = 1
	return vector, nil
}

func (constEmbedder) Name() string { return "const-embedder" }

// stubLLM 返回固定回答
type stubLLM struct {
	answer string
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (*llm.Response, error) {
	return &llm.Response{
		Text:       s.answer,
		TokenCount: 5,
		ModelName:  "stub-model",
		FinishTime: time.Now(),
	}, nil
}

func (s *stubLLM) Name() string { return "stub" }

type testEnv struct {
	Router          *gin.Engine
	VectorDB        vectordb.Repository
	DocumentService *services.DocumentService
	QAService       *services.QAService
}

func setupTestEnv(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)

	dbName := fmt.Sprintf("file:apidb_%d?mode=memory", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Document{}))

	originalDB := database.DB
	database.DB = db
	t.Cleanup(func() {
		database.DB = originalDB
	})

	fileStorage, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	vectorDB, err := vectordb.NewRepository(vectordb.Config{
		Type:         "memory",
		Dimension:    testDim,
		DistanceType: vectordb.Cosine,
	})
	require.NoError(t, err)

	cacheService, err := cache.NewCache(cache.Config{Type: "memory"})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	docService := services.NewDocumentService(
		services.WithStorage(fileStorage),
		services.WithEmbedder(constEmbedder{}),
		services.WithVectorDB(vectorDB),
		services.WithLogger(logger),
	)

	qaService := services.NewQAService(
		services.WithQAEmbedder(constEmbedder{}),
		services.WithQAVectorDB(vectorDB),
		services.WithRAGService(llm.NewRAG(&stubLLM{answer: "这是一个模拟回答"})),
		services.WithQACache(cacheService),
		services.WithQALogger(logger),
	)

	router := SetupRouter(
		handler.NewDocumentHandler(docService, nil),
		handler.NewQAHandler(qaService),
	)

	return &testEnv{
		Router:          router,
		VectorDB:        vectorDB,
		DocumentService: docService,
		QAService:       qaService,
	}
}

// uploadFile 通过multipart上传一个文件并返回文档ID
func uploadFile(t *testing.T, env *testEnv, filename, content string) string {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, "Upload should succeed: %s", w.Body.String())

	var resp struct {
		Code int                          `json:"code"`
		Data model.DocumentUploadResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.DocumentID)
	return resp.Data.DocumentID
}

// waitForCompletion 轮询文档状态直到处理结束
func waitForCompletion(t *testing.T, env *testEnv, docID string) model.DocumentStatusResponse {
	t.Helper()

	var status model.DocumentStatusResponse
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/documents/"+docID+"/status", nil)
		w := httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			return false
		}

		var resp struct {
			Data model.DocumentStatusResponse `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		status = resp.Data
		return status.Status == string(models.DocStatusCompleted) ||
			status.Status == string(models.DocStatusFailed)
	}, 10*time.Second, 50*time.Millisecond, "Document processing should finish")

	return status
}

func testDocumentContent() string {
	var builder strings.Builder
	for i := 0; i < 4; i++ {
		fmt.Fprintf(&builder, "Section %d explains retrieval. ", i)
		builder.WriteString(strings.Repeat("Embeddings map text into vector space. ", 15))
		builder.WriteString("\n\n")
	}
	return builder.String()
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestUploadAndStatusFlow(t *testing.T) {
	env := setupTestEnv(t)

	docID := uploadFile(t, env, "notes.txt", testDocumentContent())
	status := waitForCompletion(t, env, docID)

	assert.Equal(t, string(models.DocStatusCompleted), status.Status)
	assert.Equal(t, string(models.StageCompleted), status.Stage)
	assert.Equal(t, 100, status.Progress)
	assert.Greater(t, status.SegmentCount, 0)
	assert.Equal(t, status.SegmentCount, status.EmbeddedCount)

	count, err := env.VectorDB.Count()
	require.NoError(t, err)
	assert.Equal(t, status.SegmentCount, count)
}

func TestUploadUnsupportedFileType(t *testing.T) {
	env := setupTestEnv(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "report.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentStatusNotFound(t *testing.T) {
	env := setupTestEnv(t)

	docID := models.NewDocumentID()
	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+docID+"/status", nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentStatusInvalidID(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/not-a-uuid/status", nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDocuments(t *testing.T) {
	env := setupTestEnv(t)

	docID := uploadFile(t, env, "list_me.txt", testDocumentContent())
	waitForCompletion(t, env, docID)

	req := httptest.NewRequest(http.MethodGet, "/api/documents?page=1&page_size=10", nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data model.DocumentListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Data.Total)
	require.Len(t, resp.Data.Documents, 1)
	assert.Equal(t, docID, resp.Data.Documents[0].DocumentID)
	assert.Equal(t, "list_me.txt", resp.Data.Documents[0].FileName)
}

func TestSearchEndpoint(t *testing.T) {
	env := setupTestEnv(t)

	docID := uploadFile(t, env, "search_me.txt", testDocumentContent())
	waitForCompletion(t, env, docID)

	payload, _ := json.Marshal(model.SearchRequest{Query: "向量空间"})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data model.SearchResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Results)

	first := resp.Data.Results[0]
	assert.Equal(t, docID, first.DocumentID)
	assert.Equal(t, "search_me.txt", first.FileName)
	assert.Regexp(t, `^\d\.\d{4}$`, first.Score, "Score should be formatted to four decimals")
}

func TestQAEndpoint(t *testing.T) {
	env := setupTestEnv(t)

	docID := uploadFile(t, env, "qa_doc.txt", testDocumentContent())
	waitForCompletion(t, env, docID)

	payload, _ := json.Marshal(model.QARequest{Question: "嵌入向量是什么？"})
	req := httptest.NewRequest(http.MethodPost, "/api/qa", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data model.QAResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "这是一个模拟回答", resp.Data.Answer)
	require.NotEmpty(t, resp.Data.Sources)
	assert.Equal(t, docID, resp.Data.Sources[0].DocumentID)
	assert.NotEmpty(t, resp.Data.Sources[0].Preview)
}

func TestQAEmptyQuestion(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/qa", strings.NewReader(`{"question":""}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteDocument(t *testing.T) {
	env := setupTestEnv(t)

	docID := uploadFile(t, env, "delete_me.txt", testDocumentContent())
	waitForCompletion(t, env, docID)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/"+docID, nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	count, err := env.VectorDB.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	statusReq := httptest.NewRequest(http.MethodGet, "/api/documents/"+docID+"/status", nil)
	statusW := httptest.NewRecorder()
	env.Router.ServeHTTP(statusW, statusReq)
	assert.Equal(t, http.StatusNotFound, statusW.Code)
}

func TestUpdateDocumentTags(t *testing.T) {
	env := setupTestEnv(t)

	docID := uploadFile(t, env, "tag_me.txt", testDocumentContent())
	waitForCompletion(t, env, docID)

	payload := `{"tags":["manual","draft"]}`
	req := httptest.NewRequest(http.MethodPut, "/api/documents/"+docID+"/tags", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	info, err := env.DocumentService.GetDocumentInfo(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, "manual,draft", info["tags"])
}
