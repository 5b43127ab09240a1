package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// Gemini生成API端点
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

	// ModelGeminiFlash Gemini默认生成模型
	ModelGeminiFlash = "gemini-2.0-flash"
)

// GeminiGenerateRequest Gemini生成请求结构
type GeminiGenerateRequest struct {
	Contents         []GeminiContent         `json:"contents"`
	GenerationConfig *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// GeminiContent 请求内容
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart 内容片段
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiGenerationConfig 生成参数
type GeminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// GeminiGenerateResponse Gemini生成响应结构
type GeminiGenerateResponse struct {
	Candidates []struct {
		Content      GeminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// GeminiLLMClient Gemini生成模型客户端实现
type GeminiLLMClient struct {
	apiKey      string       // API密钥
	endpoint    string       // API端点
	model       string       // 模型名称
	httpClient  *http.Client // HTTP客户端
	maxRetries  int          // 最大重试次数
	maxTokens   int          // 最大生成Token数
	temperature float32      // 温度参数
	topP        float32      // topP参数
}

// NewGeminiLLMClient 创建新的Gemini生成客户端
func NewGeminiLLMClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.APIKey == "" {
		return nil, NewLLMError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	endpoint := cfg.BaseURL
	if endpoint == "" || endpoint == defaultTongyiEndpoint {
		endpoint = defaultGeminiEndpoint
	}

	model := cfg.Model
	if model == "" || model == ModelQwenTurbo {
		model = ModelGeminiFlash
	}

	return &GeminiLLMClient{
		apiKey:      cfg.APIKey,
		endpoint:    strings.TrimSuffix(endpoint, "/"),
		model:       model,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		maxRetries:  cfg.MaxRetries,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
	}, nil
}

// Name 返回模型名称
func (c *GeminiLLMClient) Name() string {
	return c.model
}

// Generate 根据提示词生成回答
func (c *GeminiLLMClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	if prompt == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}

	opts := &GenerateOptions{}
	for _, opt := range options {
		opt(opts)
	}

	genCfg := &GeminiGenerationConfig{}

	if opts.MaxTokens != nil {
		genCfg.MaxOutputTokens = opts.MaxTokens
	} else if c.maxTokens > 0 {
		maxTokens := c.maxTokens
		genCfg.MaxOutputTokens = &maxTokens
	}

	if opts.Temperature != nil {
		genCfg.Temperature = opts.Temperature
	} else if c.temperature > 0 {
		temp := c.temperature
		genCfg.Temperature = &temp
	}

	if opts.TopP != nil {
		genCfg.TopP = opts.TopP
	} else if c.topP > 0 {
		topP := c.topP
		genCfg.TopP = &topP
	}

	req := &GeminiGenerateRequest{
		Contents: []GeminiContent{
			{Role: "user", Parts: []GeminiPart{{Text: prompt}}},
		},
		GenerationConfig: genCfg,
	}

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	return c.processResponse(resp)
}

// sendRequest 发送API请求并解析响应
func (c *GeminiLLMClient) sendRequest(ctx context.Context, req *GeminiGenerateRequest) (*GeminiGenerateResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, NewLLMError(ErrCodeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.endpoint, c.model)

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// 指数退避重试
			select {
			case <-ctx.Done():
				return nil, NewLLMError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}

		// 请求体每次重新构造，避免重试时读到已消费的Body
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if reqErr != nil {
			return nil, NewLLMError(ErrCodeInvalidRequest, fmt.Sprintf("failed to create request: %v", reqErr))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		resp, err = c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode < 500 {
			// 成功或客户端错误，不需要重试
			break
		}

		// 5xx：还有重试机会时丢弃本次响应，最后一次留给调用方读取
		if attempt < c.maxRetries {
			resp.Body.Close()
			resp = nil
		}
	}

	if err != nil {
		return nil, NewLLMError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", lastErr))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewLLMError(ErrCodeServerError, fmt.Sprintf("failed to read response: %v", err))
	}

	var geminiResp GeminiGenerateResponse
	jsonErr := json.Unmarshal(body, &geminiResp)
	if jsonErr == nil && geminiResp.Error != nil {
		return nil, statusError(resp.StatusCode,
			fmt.Sprintf("API error: %s (%s)", geminiResp.Error.Message, geminiResp.Error.Status))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode,
			fmt.Sprintf("API error (status %d): %s", resp.StatusCode, string(body)))
	}

	if jsonErr != nil {
		return nil, NewLLMError(ErrCodeServerError,
			fmt.Sprintf("failed to parse response: %v", jsonErr))
	}

	return &geminiResp, nil
}

// processResponse 处理Gemini的响应
func (c *GeminiLLMClient) processResponse(resp *GeminiGenerateResponse) (*Response, error) {
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, NewLLMError(ErrCodeServerError, "empty response from API")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	return &Response{
		Text:       text.String(),
		TokenCount: resp.UsageMetadata.TotalTokenCount,
		ModelName:  c.model,
		FinishTime: time.Now(),
	}, nil
}

// 在包初始化时注册Gemini客户端
func init() {
	RegisterClient("gemini", NewGeminiLLMClient)
}
