package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// 默认OpenAI兼容端点
	defaultOpenAIEndpoint = "https://api.openai.com/v1/embeddings"

	// 默认模型
	defaultOpenAIModel = "text-embedding-3-small"
)

// OpenAIRequest OpenAI兼容的嵌入请求结构体
type OpenAIRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	EncodingFormat string `json:"encoding_format,omitempty"`
	Dimensions     int    `json:"dimensions,omitempty"`
}

// OpenAIResponse OpenAI兼容的嵌入响应结构体
type OpenAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// OpenAIClient 实现OpenAI兼容的嵌入API客户端
// 可用于OpenAI本身以及任何兼容接口的提供方
type OpenAIClient struct {
	apiKey     string       // API密钥
	endpoint   string       // API端点
	model      string       // 模型名称
	dimensions int          // 请求的输出维度
	httpClient *http.Client // HTTP客户端
}

// NewOpenAIClient 创建新的OpenAI兼容嵌入客户端
func NewOpenAIClient(cfg *Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}

	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gemini") {
		model = defaultOpenAIModel
	}

	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		model:      model,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.model
}

// Embed 生成单条文本的向量表示
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	reqData := OpenAIRequest{
		Model:          c.model,
		Input:          text,
		EncodingFormat: "float",
	}
	// text-embedding-3系列支持请求时指定输出维度
	if c.dimensions > 0 && strings.HasPrefix(c.model, "text-embedding-3") {
		reqData.Dimensions = c.dimensions
	}

	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to create request: %v", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

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

	var result OpenAIResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, NewEmbeddingError(ErrCodeServerError, fmt.Sprintf("failed to parse response: %v", err))
	}

	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, NewEmbeddingError(ErrCodeServerError, "no embedding vectors returned")
	}

	return result.Data[0].Embedding, nil
}

// 在包初始化时注册OpenAI兼容客户端
func init() {
	RegisterClient("openai", NewOpenAIClient)
}
