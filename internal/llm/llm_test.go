package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTongyiTestServer 创建模拟通义千问API的测试服务器
func newTongyiTestServer(t *testing.T, answer string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer")

		var req TongyiRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)
		require.NotNil(t, req.Input)
		require.NotEmpty(t, req.Input.Messages)

		resp := TongyiResponse{
			RequestID: "test-request",
			Output: TongyiOutput{
				Choices: []TongyiChoice{
					{
						FinishReason: "stop",
						Message:      Message{Role: RoleAssistant, Content: answer},
					},
				},
			},
			Usage: TongyiUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestTongyiClientGenerate(t *testing.T) {
	server := newTongyiTestServer(t, "这是测试回答")
	defer server.Close()

	client, err := NewTongyiClient(
		WithAPIKey("test-key"),
		WithBaseURL(server.URL),
		WithModel(ModelQwenTurbo),
		WithTimeout(5*time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, ModelQwenTurbo, client.Name())

	resp, err := client.Generate(context.Background(), "什么是向量检索？")
	require.NoError(t, err)
	assert.Equal(t, "这是测试回答", resp.Text)
	assert.Equal(t, 15, resp.TokenCount)
}

func TestTongyiClientEmptyPrompt(t *testing.T) {
	client, err := NewTongyiClient(WithAPIKey("test-key"))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "")
	require.Error(t, err)

	llmErr, ok := err.(LLMError)
	require.True(t, ok, "错误应为LLMError类型")
	assert.Equal(t, ErrCodeEmptyPrompt, llmErr.Code)
}

func TestTongyiClientMissingAPIKey(t *testing.T) {
	_, err := NewTongyiClient()
	require.Error(t, err)

	llmErr, ok := err.(LLMError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidAPIKey, llmErr.Code)
}

func TestTongyiClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "InvalidParameter",
			"message": "model not found",
		})
	}))
	defer server.Close()

	client, err := NewTongyiClient(
		WithAPIKey("test-key"),
		WithBaseURL(server.URL),
	)
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestTongyiClientRetriesServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := TongyiResponse{
			Output: TongyiOutput{
				Choices: []TongyiChoice{
					{Message: Message{Role: RoleAssistant, Content: "重试后成功"}},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewTongyiClient(
		WithAPIKey("test-key"),
		WithBaseURL(server.URL),
		WithMaxRetries(3),
	)
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, "重试后成功", resp.Text)
	assert.Equal(t, 3, attempts, "应在第三次尝试成功")
}

func TestTongyiClientExhaustedRetriesReportsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "ServiceUnavailable",
			"message": "upstream overloaded",
		})
	}))
	defer server.Close()

	client, err := NewTongyiClient(
		WithAPIKey("test-key"),
		WithBaseURL(server.URL),
		WithMaxRetries(2),
	)
	require.NoError(t, err)

	// 重试耗尽后错误应携带最后一次响应的内容
	_, err = client.Generate(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream overloaded")
	assert.NotContains(t, err.Error(), "closed response body")
}

func TestGeminiLLMClientGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, ":generateContent")
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req GeminiGenerateRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)
		require.NotEmpty(t, req.Contents)
		require.NotEmpty(t, req.Contents[0].Parts)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "Gemini生成的回答"}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 9, "totalTokenCount": 21}
		}`))
	}))
	defer server.Close()

	client, err := NewGeminiLLMClient(
		WithAPIKey("test-key"),
		WithBaseURL(server.URL),
		WithModel(ModelGeminiFlash),
	)
	require.NoError(t, err)
	assert.Equal(t, ModelGeminiFlash, client.Name())

	resp, err := client.Generate(context.Background(), "什么是向量检索？")
	require.NoError(t, err)
	assert.Equal(t, "Gemini生成的回答", resp.Text)
	assert.Equal(t, 21, resp.TokenCount)
}

func TestGeminiLLMClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	client, err := NewGeminiLLMClient(
		WithAPIKey("bad-key"),
		WithBaseURL(server.URL),
	)
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestNewClientFactory(t *testing.T) {
	client, err := NewClient("tongyi", WithAPIKey("test-key"))
	require.NoError(t, err)
	assert.NotNil(t, client)

	client, err = NewClient("gemini", WithAPIKey("test-key"))
	require.NoError(t, err)
	assert.NotNil(t, client)

	_, err = NewClient("unknown-provider")
	require.Error(t, err)
}

// mockLLMClient 用于RAG测试的模拟客户端
type mockLLMClient struct {
	lastPrompt string
	answer     string
	err        error
}

func (m *mockLLMClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	m.lastPrompt = prompt
	if m.err != nil {
		return nil, m.err
	}
	return &Response{Text: m.answer, ModelName: "mock"}, nil
}

func (m *mockLLMClient) Name() string {
	return "mock"
}

func TestRAGServiceAnswer(t *testing.T) {
	mock := &mockLLMClient{answer: "向量检索是一种相似度搜索技术"}
	rag := NewRAG(mock)

	sources := []SourceReference{
		BuildSourceReference("doc-1", "intro.md", "document", 0, 0.92, "向量检索的介绍内容"),
		BuildSourceReference("doc-1", "intro.md", "document", 3, 0.85, "相似度计算的细节"),
	}
	contents := []string{"向量检索的介绍内容", "相似度计算的细节"}

	resp, err := rag.Answer(context.Background(), "什么是向量检索？", contents, sources)
	require.NoError(t, err)
	assert.Equal(t, "向量检索是一种相似度搜索技术", resp.Answer)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "intro.md", resp.Sources[0].FileName)
	assert.Equal(t, 0, resp.Sources[0].ChunkIndex)

	// 提示词包含上下文和来源标注
	assert.Contains(t, mock.lastPrompt, "向量检索的介绍内容")
	assert.Contains(t, mock.lastPrompt, "intro.md")
	assert.Contains(t, mock.lastPrompt, "什么是向量检索？")
}

func TestRAGServiceNoContext(t *testing.T) {
	mock := &mockLLMClient{answer: "should not be called"}
	rag := NewRAG(mock)

	resp, err := rag.Answer(context.Background(), "没有资料的问题", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, NoAnswerText, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Empty(t, mock.lastPrompt, "没有上下文时不应调用大模型")
}

func TestRAGServiceEmptyQuestion(t *testing.T) {
	rag := NewRAG(&mockLLMClient{})

	_, err := rag.Answer(context.Background(), "", []string{"ctx"}, nil)
	require.Error(t, err)
}

func TestBuildSourceReference(t *testing.T) {
	t.Run("short content kept whole", func(t *testing.T) {
		ref := BuildSourceReference("doc-1", "a.txt", "document", 2, 0.7654, "短内容")
		assert.Equal(t, "短内容", ref.Preview)
		assert.Equal(t, 2, ref.ChunkIndex)
	})

	t.Run("long content truncated", func(t *testing.T) {
		long := strings.Repeat("数", 300)
		ref := BuildSourceReference("doc-1", "a.txt", "document", 0, 0.9, long)
		assert.True(t, strings.HasSuffix(ref.Preview, "..."))
		assert.Equal(t, 203, len([]rune(ref.Preview)), "预览应为200字符加省略号")
	})
}
