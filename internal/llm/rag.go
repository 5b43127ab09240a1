package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// NoAnswerText 检索不到相关内容时的固定回答
const NoAnswerText = "抱歉，我没有找到相关信息"

// DefaultRAGTemplate 默认RAG提示词模板
// 包含变量：
// {{.Question}} - 用户问题
// {{.Context}} - 检索的上下文
const DefaultRAGTemplate = `请你作为一个智能问答助手，基于下面提供的参考上下文回答问题。
如果参考上下文中没有足够信息回答问题，请直接说"` + NoAnswerText + `"，不要猜测或编造信息。

参考上下文:
{{.Context}}

用户问题: {{.Question}}

请直接回答问题，不要重复问题内容，不要说参考上下文之类的话语。`

// formatContext 格式化检索到的上下文内容
// 每条引用带上来源文件与分块序号，便于模型标注出处
func formatContext(sources []SourceReference, contents []string) string {
	var b strings.Builder
	for i, content := range contents {
		if i < len(sources) {
			b.WriteString(fmt.Sprintf("【%d】(%s 第%d块) %s\n\n",
				i+1, sources[i].FileName, sources[i].ChunkIndex, content))
		} else {
			b.WriteString(fmt.Sprintf("【%d】%s\n\n", i+1, content))
		}
	}
	return b.String()
}

// RAGConfig 检索增强生成配置
type RAGConfig struct {
	// 提示词模板
	Template string
	// 最大Token数
	MaxTokens int
	// 温度参数
	Temperature float32
	// 超时时间
	Timeout time.Duration
	// 是否带上引用来源
	IncludeSources bool
}

// DefaultRAGConfig 默认RAG配置
func DefaultRAGConfig() *RAGConfig {
	return &RAGConfig{
		Template:       DefaultRAGTemplate,
		MaxTokens:      2048,
		Temperature:    0.7,
		Timeout:        30 * time.Second,
		IncludeSources: true,
	}
}

// RAGService 实现检索增强生成服务
type RAGService struct {
	Client Client       // 大模型客户端
	config *RAGConfig   // 配置
	mu     sync.RWMutex // 配置互斥锁
}

// NewRAG 创建新的检索增强生成服务
func NewRAG(client Client, opts ...RAGOption) *RAGService {
	cfg := DefaultRAGConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &RAGService{
		Client: client,
		config: cfg,
	}
}

// RAGOption RAG配置选项函数类型
type RAGOption func(*RAGConfig)

// WithTemplate 设置提示词模板
func WithTemplate(template string) RAGOption {
	return func(c *RAGConfig) {
		c.Template = template
	}
}

// WithRAGMaxTokens 设置最大Token数
func WithRAGMaxTokens(tokens int) RAGOption {
	return func(c *RAGConfig) {
		c.MaxTokens = tokens
	}
}

// WithRAGTemperature 设置温度参数
func WithRAGTemperature(temp float32) RAGOption {
	return func(c *RAGConfig) {
		c.Temperature = temp
	}
}

// WithRAGTimeout 设置请求超时时间
func WithRAGTimeout(timeout time.Duration) RAGOption {
	return func(c *RAGConfig) {
		c.Timeout = timeout
	}
}

// WithSources 设置是否包含引用来源
func WithSources(include bool) RAGOption {
	return func(c *RAGConfig) {
		c.IncludeSources = include
	}
}

// Answer 根据检索到的上下文和问题生成回答
// contents是检索到的原文分块，sources是对应的引用信息
func (r *RAGService) Answer(ctx context.Context, question string, contents []string, sources []SourceReference) (*RAGResponse, error) {
	if question == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, "question cannot be empty")
	}

	r.mu.RLock()
	cfg := r.config
	r.mu.RUnlock()

	// 没有任何上下文时直接返回固定回答，不调用大模型
	if len(contents) == 0 {
		return &RAGResponse{Answer: NoAnswerText}, nil
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	prompt := r.buildPrompt(question, contents, sources)

	response, err := r.Client.Generate(
		ctxWithTimeout,
		prompt,
		WithGenerateMaxTokens(cfg.MaxTokens),
		WithGenerateTemperature(cfg.Temperature),
	)

	if err != nil {
		return nil, fmt.Errorf("failed to generate response: %v", err)
	}

	ragResponse := &RAGResponse{
		Answer: response.Text,
	}

	if cfg.IncludeSources {
		ragResponse.Sources = sources
	}

	return ragResponse, nil
}

// buildPrompt 构建增强提示词
func (r *RAGService) buildPrompt(question string, contents []string, sources []SourceReference) string {
	r.mu.RLock()
	template := r.config.Template
	r.mu.RUnlock()

	formattedContext := formatContext(sources, contents)

	// 简单的模板替换
	prompt := template
	prompt = strings.ReplaceAll(prompt, "{{.Question}}", question)
	prompt = strings.ReplaceAll(prompt, "{{.Context}}", formattedContext)

	return prompt
}

// SetTemplate 设置自定义提示词模板
func (r *RAGService) SetTemplate(template string) *RAGService {
	r.mu.Lock()
	r.config.Template = template
	r.mu.Unlock()
	return r
}
