package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// 默认API端点
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

	// 默认模型
	defaultGeminiModel = "gemini-embedding-001"
)

// GeminiRequest 定义Gemini嵌入请求结构体
type GeminiRequest struct {
	Model    string        `json:"model"`
	Content  GeminiContent `json:"content"`
	TaskType string        `json:"taskType,omitempty"`
}

type GeminiContent struct {
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiResponse 定义Gemini嵌入响应结构体
type GeminiResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
	Error *GeminiAPIError `json:"error,omitempty"`
}

// GeminiAPIError Gemini错误响应体
type GeminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// GeminiClient 实现Gemini嵌入API客户端
type GeminiClient struct {
	apiKey     string       // API密钥
	endpoint   string       // API端点
	model      string       // 模型名称
	httpClient *http.Client // HTTP客户端
}

// NewGeminiClient 创建新的Gemini嵌入客户端
func NewGeminiClient(cfg *Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	return &GeminiClient{
		apiKey:     cfg.APIKey,
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name 返回模型名称
func (c *GeminiClient) Name() string {
	return c.model
}

// Embed 生成单条文本的向量表示
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	reqData := GeminiRequest{
		Model:    "models/" + c.model,
		Content:  GeminiContent{Parts: []GeminiPart{{Text: text}}},
		TaskType: "RETRIEVAL_DOCUMENT",
	}

	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err))
	}

	url := fmt.Sprintf("%s/models/%s:embedContent", c.endpoint, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to create request: %v", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeServerError, fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp.StatusCode, body)
	}

	var result GeminiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, NewEmbeddingError(ErrCodeServerError, fmt.Sprintf("failed to parse response: %v", err))
	}

	if result.Error != nil {
		return nil, classifyHTTPError(result.Error.Code, body)
	}

	if len(result.Embedding.Values) == 0 {
		return nil, NewEmbeddingError(ErrCodeServerError, "no embedding values returned")
	}

	return result.Embedding.Values, nil
}

// classifyTransportError 将传输层错误归类为瞬时错误
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewEmbeddingError(ErrCodeTimeout, ErrMsgTimeout)
	}
	if strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "Client.Timeout") {
		return NewEmbeddingError(ErrCodeTimeout, ErrMsgTimeout)
	}
	return NewEmbeddingError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", err))
}

// classifyHTTPError 将提供方的错误响应映射到错误码
// 429和配额类错误视为配额耗尽，5xx视为瞬时错误
func classifyHTTPError(statusCode int, body []byte) error {
	msg := string(body)
	lower := strings.ToLower(msg)

	switch {
	case statusCode == http.StatusTooManyRequests,
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "resource_exhausted"):
		return NewEmbeddingError(ErrCodeQuotaExceeded, ErrMsgQuotaExceeded)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	case statusCode == http.StatusServiceUnavailable,
		strings.Contains(lower, "unavailable"):
		return NewEmbeddingError(ErrCodeUnavailable, ErrMsgUnavailable)
	case statusCode == http.StatusGatewayTimeout,
		strings.Contains(lower, "deadline exceeded"):
		return NewEmbeddingError(ErrCodeTimeout, ErrMsgTimeout)
	case statusCode >= 500:
		return NewEmbeddingError(ErrCodeUnavailable, fmt.Sprintf("provider error (status=%d): %s", statusCode, msg))
	default:
		return NewEmbeddingError(ErrCodeServerError, fmt.Sprintf("API error (status=%d): %s", statusCode, msg))
	}
}

// 在包初始化时注册Gemini客户端
func init() {
	RegisterClient("gemini", NewGeminiClient)
}
