package services

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglite/doc-retrieval-system/internal/cache"
	"github.com/raglite/doc-retrieval-system/internal/llm"
	"github.com/raglite/doc-retrieval-system/internal/models"
	"github.com/raglite/doc-retrieval-system/internal/vectordb"
)

// stubLLMClient 测试用大模型客户端
type stubLLMClient struct {
	answer     string
	callCount  int
	lastPrompt string
}

func (c *stubLLMClient) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (*llm.Response, error) {
	c.callCount++
	c.lastPrompt = prompt
	return &llm.Response{
		Text:       c.answer,
		TokenCount: 10,
		ModelName:  "stub-model",
		FinishTime: time.Now(),
	}, nil
}

func (c *stubLLMClient) Name() string {
	return "stub"
}

// fixedEmbedder 返回固定向量的嵌入客户端
type fixedEmbedder struct {
	vector []float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, nil
}

func (f *fixedEmbedder) Name() string {
	return "fixed-embedder"
}

// seedSpan 待写入的分段内容和向量
type seedSpan struct {
	content string
	vector  []float32
}

// seedDocument 一次性写入同一文档的全部分段
// AddBatch按文档整体替换，分次写入会互相覆盖
func seedDocument(t *testing.T, repo vectordb.Repository, docID, fileName string, spans ...seedSpan) {
	t.Helper()
	chunks := make([]vectordb.Chunk, 0, len(spans))
	for i, span := range spans {
		chunks = append(chunks, vectordb.Chunk{
			ID:         models.NewChunkID(docID, i),
			DocumentID: docID,
			FileName:   fileName,
			Index:      i,
			Content:    span.content,
			Vector:     span.vector,
			CreatedAt:  time.Now(),
			Metadata:   map[string]interface{}{"category": "document"},
		})
	}
	require.NoError(t, repo.AddBatch(chunks), "Failed to seed document chunks")
}

func newTestQAService(t *testing.T, client *stubLLMClient, withCache bool) (*QAService, vectordb.Repository) {
	repo, err := vectordb.NewMemoryRepository(vectordb.Config{
		Type:      "memory",
		Dimension: 4,
	})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	opts := []QAOption{
		WithQAEmbedder(&fixedEmbedder{vector: []float32{1, 0, 0, 0}}),
		WithQAVectorDB(repo),
		WithRAGService(llm.NewRAG(client)),
		WithQALogger(logger),
	}

	if withCache {
		memCache, err := cache.NewMemoryCache(cache.Config{Type: "memory"})
		require.NoError(t, err)
		opts = append(opts, WithQACache(memCache))
	}

	return NewQAService(opts...), repo
}

func TestQAServiceAnswer(t *testing.T) {
	client := &stubLLMClient{answer: "文档检索通过向量相似度实现。"}
	svc, repo := newTestQAService(t, client, false)
	ctx := context.Background()

	docID := models.NewDocumentID()
	seedDocument(t, repo, docID, "intro.txt",
		seedSpan{content: "Vector retrieval ranks chunks by cosine similarity.", vector: []float32{1, 0, 0, 0}},
		seedSpan{content: "Unrelated content about cooking recipes.", vector: []float32{0, 1, 0, 0}},
	)

	response, err := svc.Answer(ctx, "向量检索如何排序？")
	require.NoError(t, err)
	assert.Equal(t, client.answer, response.Answer)
	assert.Equal(t, 1, client.callCount)

	// 只有超过阈值的分块会成为引用来源
	require.Len(t, response.Sources, 1)
	source := response.Sources[0]
	assert.Equal(t, docID, source.DocumentID)
	assert.Equal(t, "intro.txt", source.FileName)
	assert.Equal(t, "document", source.Category)
	assert.Equal(t, 0, source.ChunkIndex)
	assert.InDelta(t, 1.0, source.Score, 0.001)
	assert.Contains(t, source.Preview, "cosine similarity")

	// 提示词里应包含检索到的上下文和问题
	assert.Contains(t, client.lastPrompt, "cosine similarity")
	assert.Contains(t, client.lastPrompt, "向量检索如何排序？")
}

func TestQAServiceNoResults(t *testing.T) {
	client := &stubLLMClient{answer: "should not be used"}
	svc, _ := newTestQAService(t, client, false)

	response, err := svc.Answer(context.Background(), "库里没有任何文档")
	require.NoError(t, err)
	assert.Equal(t, llm.NoAnswerText, response.Answer)
	assert.Empty(t, response.Sources)
	assert.Equal(t, 0, client.callCount, "LLM should not be called without context")
}

func TestQAServiceCacheHit(t *testing.T) {
	client := &stubLLMClient{answer: "cached answer"}
	svc, repo := newTestQAService(t, client, true)
	ctx := context.Background()

	docID := models.NewDocumentID()
	seedDocument(t, repo, docID, "cached.txt",
		seedSpan{content: "Answers can be cached by query.", vector: []float32{1, 0, 0, 0}})

	first, err := svc.Answer(ctx, "缓存如何工作？")
	require.NoError(t, err)

	second, err := svc.Answer(ctx, "缓存如何工作？")
	require.NoError(t, err)

	assert.Equal(t, 1, client.callCount, "Second call should hit the cache")
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Sources, second.Sources)

	// 清空缓存后重新生成
	require.NoError(t, svc.ClearCache())
	_, err = svc.Answer(ctx, "缓存如何工作？")
	require.NoError(t, err)
	assert.Equal(t, 2, client.callCount)
}

func TestQAServiceEmptyQuery(t *testing.T) {
	client := &stubLLMClient{answer: "unused"}
	svc, _ := newTestQAService(t, client, false)

	_, err := svc.Answer(context.Background(), "   ")
	require.Error(t, err)

	var llmErr llm.LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrCodeEmptyPrompt, llmErr.Code)
}

func TestQAServiceAnswerWithDocument(t *testing.T) {
	client := &stubLLMClient{answer: "scoped answer"}
	svc, repo := newTestQAService(t, client, false)
	ctx := context.Background()

	targetDoc := models.NewDocumentID()
	otherDoc := models.NewDocumentID()
	seedDocument(t, repo, targetDoc, "target.txt",
		seedSpan{content: "Content inside the target document.", vector: []float32{1, 0, 0, 0}})
	seedDocument(t, repo, otherDoc, "other.txt",
		seedSpan{content: "Content inside another document.", vector: []float32{1, 0, 0, 0}})

	response, err := svc.AnswerWithDocument(ctx, "目标文档里有什么？", targetDoc)
	require.NoError(t, err)

	require.Len(t, response.Sources, 1)
	assert.Equal(t, targetDoc, response.Sources[0].DocumentID)

	// 非法文档ID在入口处被拒绝
	_, err = svc.AnswerWithDocument(ctx, "问题", "bad-id")
	assert.ErrorIs(t, err, models.ErrInvalidDocumentID)
}

func TestRetrieveValidation(t *testing.T) {
	client := &stubLLMClient{answer: "unused"}
	svc, _ := newTestQAService(t, client, false)

	_, err := svc.Retrieve(context.Background(), "")
	assert.Error(t, err, "Empty query should be rejected")
}
