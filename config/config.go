package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	VectorDB  VectorDBConfig  `mapstructure:"vectordb"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embed     EmbedConfig     `mapstructure:"embed"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Search    SearchConfig    `mapstructure:"search"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`                          // 服务器主机
	Port int    `mapstructure:"port" validate:"min=1,max=65535"` // 服务器端口
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type"`     // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`     // 本地存储路径
	Bucket    string `mapstructure:"bucket"`   // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"` // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// VectorDBConfig 向量数据库配置
type VectorDBConfig struct {
	Type     string `mapstructure:"type" validate:"oneof=memory faiss pgvector"` // 向量数据库类型
	Path     string `mapstructure:"path"`                                       // 数据库文件路径或连接串
	Dim      int    `mapstructure:"dim" validate:"min=1"`                       // 向量维度
	Distance string `mapstructure:"distance" validate:"oneof=cosine l2 dot"`    // 距离度量方式
}

// LLMConfig 大语言模型配置
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`    // 提供商，如 tongyi
	Model       string  `mapstructure:"model"`       // 模型名称
	APIKey      string  `mapstructure:"api_key"`     // API密钥
	Endpoint    string  `mapstructure:"endpoint"`    // API端点
	MaxTokens   int     `mapstructure:"max_tokens"`  // 最大生成token数量
	Temperature float32 `mapstructure:"temperature"` // 采样温度
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string `mapstructure:"provider"`    // 提供商：gemini 或 openai
	Model      string `mapstructure:"model"`       // 模型名称
	APIKey     string `mapstructure:"api_key"`     // API密钥
	Endpoint   string `mapstructure:"endpoint"`    // API端点
	Dimensions int    `mapstructure:"dimensions"`  // 期望的向量维度
	MaxRetries int    `mapstructure:"max_retries"` // 瞬时错误的最大重试次数
	RetryDelay int    `mapstructure:"retry_delay"` // 重试间隔（秒）
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`   // 是否启用缓存
	Type     string `mapstructure:"type"`     // 缓存类型：memory 或 redis
	Address  string `mapstructure:"address"`  // Redis地址
	Password string `mapstructure:"password"` // Redis密码
	DB       int    `mapstructure:"db"`       // Redis数据库
	TTL      int    `mapstructure:"ttl"`      // 缓存TTL（秒）
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // 数据库类型: sqlite, mysql, postgres
	DSN  string `mapstructure:"dsn"`  // 数据源名称
}

// ChunkingConfig 文本分段配置
// 边界比例是窗口内边界搜索的下限，可按语料特点覆盖
type ChunkingConfig struct {
	ChunkSize     int     `mapstructure:"chunk_size" validate:"min=1"`      // 分块大小（token数）
	ChunkOverlap  int     `mapstructure:"chunk_overlap" validate:"min=0"`   // 分块重叠大小（token数）
	CharsPerToken int     `mapstructure:"chars_per_token" validate:"min=1"` // token到字符的换算系数
	ParaFrac      float64 `mapstructure:"para_frac"`                        // 段落边界最小比例
	SentenceFrac  float64 `mapstructure:"sentence_frac"`                    // 句子边界最小比例
	PunctFrac     float64 `mapstructure:"punct_frac"`                       // 标点边界最小比例
	NewlineFrac   float64 `mapstructure:"newline_frac"`                     // 换行边界最小比例
	SpaceFrac     float64 `mapstructure:"space_frac"`                       // 空格边界最小比例
}

// SearchConfig 检索配置
type SearchConfig struct {
	Limit    int     `mapstructure:"limit"`     // 检索结果数量限制
	MinScore float32 `mapstructure:"min_score"` // 最低相似度分数
}

// QueueConfig 后台任务队列配置
type QueueConfig struct {
	Type       string `mapstructure:"type" validate:"oneof=inline redis"` // 队列类型：inline 或 redis
	Address    string `mapstructure:"address"`                            // Redis地址
	Password   string `mapstructure:"password"`                           // Redis密码
	DB         int    `mapstructure:"db"`                                 // Redis数据库
	RetryLimit int    `mapstructure:"retry_limit"`                        // 任务最大重试次数
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level      string `mapstructure:"level"`        // 日志级别
	File       string `mapstructure:"file"`         // 日志文件路径，为空输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // 单个日志文件上限
	MaxBackups int    `mapstructure:"max_backups"`  // 保留的历史文件数
	MaxAgeDays int    `mapstructure:"max_age_days"` // 日志保留天数
}

// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	var config Config

	if configPath == "" {
		configPath = "config.yaml"
	}

	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		// 找不到配置文件时使用默认值并落盘一份
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			log.Printf("Warning: Config file not found at %s, using defaults", configPath)
			setDefaults(v)
			dir := filepath.Dir(configPath)
			if err := os.MkdirAll(dir, 0755); err == nil {
				if err := v.WriteConfigAs(configPath); err != nil {
					log.Printf("Warning: Could not write default config to %s: %v", configPath, err)
				}
			}
		} else {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
	} else {
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	setDefaults(v)

	// 支持环境变量覆盖
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	expandSecrets(&config)

	if err := validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}

	return &config, nil
}

var validate = validator.New()

// expandSecrets 展开形如 ${ENV_VAR} 的密钥引用
func expandSecrets(cfg *Config) {
	cfg.Embed.APIKey = expandEnvRef(cfg.Embed.APIKey)
	cfg.LLM.APIKey = expandEnvRef(cfg.LLM.APIKey)
	cfg.Storage.AccessKey = expandEnvRef(cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = expandEnvRef(cfg.Storage.SecretKey)
	cfg.Cache.Password = expandEnvRef(cfg.Cache.Password)
	cfg.Queue.Password = expandEnvRef(cfg.Queue.Password)
}

func expandEnvRef(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		if envVal := os.Getenv(value[2 : len(value)-1]); envVal != "" {
			return envVal
		}
	}
	return value
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./uploads")
	v.SetDefault("storage.bucket", "documents")
	v.SetDefault("storage.use_ssl", false)

	// 向量数据库默认配置
	v.SetDefault("vectordb.type", "memory")
	v.SetDefault("vectordb.path", "./vectordb")
	v.SetDefault("vectordb.dim", 768)
	v.SetDefault("vectordb.distance", "cosine")

	// LLM默认配置
	v.SetDefault("llm.provider", "tongyi")
	v.SetDefault("llm.model", "qwen-turbo")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.7)

	// Embedding默认配置
	v.SetDefault("embed.provider", "gemini")
	v.SetDefault("embed.model", "embedding-001")
	v.SetDefault("embed.dimensions", 768)
	v.SetDefault("embed.max_retries", 3)
	v.SetDefault("embed.retry_delay", 2)

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", 3600)

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/documents.db")

	// 分段默认配置
	v.SetDefault("chunking.chunk_size", 800)
	v.SetDefault("chunking.chunk_overlap", 200)
	v.SetDefault("chunking.chars_per_token", 4)
	v.SetDefault("chunking.para_frac", 0.3)
	v.SetDefault("chunking.sentence_frac", 0.4)
	v.SetDefault("chunking.punct_frac", 0.5)
	v.SetDefault("chunking.newline_frac", 0.6)
	v.SetDefault("chunking.space_frac", 0.7)

	// 检索默认配置
	v.SetDefault("search.limit", 5)
	v.SetDefault("search.min_score", 0.5)

	// 任务队列默认配置
	v.SetDefault("queue.type", "inline")
	v.SetDefault("queue.address", "localhost:6379")
	v.SetDefault("queue.retry_limit", 3)

	// 日志默认配置
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}
