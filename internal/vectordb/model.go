package vectordb

import (
	"errors"
	"time"
)

// 常用错误定义
var (
	ErrChunkNotFound    = errors.New("chunk not found")
	ErrEmptyVector      = errors.New("empty vector")
	ErrInvalidID        = errors.New("invalid chunk ID")
	ErrInvalidDimension = errors.New("vector dimension mismatch")
)

// Chunk 文档分块模型
// 分块归属于唯一的文档，向量在嵌入成功前为空
type Chunk struct {
	ID         string                 // 唯一标识符
	DocumentID string                 // 所属文档ID
	FileName   string                 // 所属文档的文件名
	Index      int                    // 在文档内的序号，从0开始
	Content    string                 // 分块文本内容
	Start      int                    // 在规范化文本中的起始偏移
	End        int                    // 在规范化文本中的结束偏移
	Vector     []float32              // 向量表示，嵌入前为nil
	CreatedAt  time.Time              // 创建时间
	Metadata   map[string]interface{} // 附加元数据
}

// HasEmbedding 判断分块是否已有向量
func (c Chunk) HasEmbedding() bool {
	return len(c.Vector) > 0
}

// DistanceType 向量距离计算方法
type DistanceType string

const (
	// Cosine 余弦距离
	Cosine DistanceType = "cosine"
	// DotProduct 点积
	DotProduct DistanceType = "dot"
	// Euclidean 欧几里得距离
	Euclidean DistanceType = "l2"
)

// SearchResult 搜索结果
type SearchResult struct {
	Chunk    Chunk   // 分块对象
	Score    float32 // 相似度得分，1减距离
	Distance float32 // 计算的距离
}

// SearchFilter 搜索过滤条件
type SearchFilter struct {
	DocumentIDs []string // 按文档ID过滤
	MinScore    float32  // 最小相似度分数
	MaxResults  int      // 最大返回结果数
}

// DefaultSearchFilter 返回默认的搜索过滤器
func DefaultSearchFilter() SearchFilter {
	return SearchFilter{
		MinScore:   0.5,
		MaxResults: 5,
	}
}

// Repository 向量仓库接口
// 管理分块及其向量的持久化和近邻查询
type Repository interface {
	// AddBatch 原子地写入一个文档的全部分块
	// 同一文档的旧分块会在同一事务内被替换，绝不出现新旧混合
	AddBatch(chunks []Chunk) error

	// Get 获取单个分块
	Get(id string) (Chunk, error)

	// MissingEmbedding 列出尚无向量的分块
	// documentID为空时返回所有文档的缺失分块
	MissingEmbedding(documentID string) ([]Chunk, error)

	// SetEmbedding 为分块写入向量，幂等的点更新
	SetEmbedding(id string, vector []float32) error

	// Search 相似度搜索，仅扫描已有向量的分块
	Search(vector []float32, filter SearchFilter) ([]SearchResult, error)

	// Delete 删除单个分块
	Delete(id string) error

	// DeleteByDocumentID 删除指定文档的所有分块
	DeleteByDocumentID(documentID string) error

	// Count 获取分块总数
	Count() (int, error)

	// GetDimension 返回向量维数
	GetDimension() int

	// Close 关闭仓库
	Close() error
}

// Config 向量仓库配置
type Config struct {
	Type              string       // 仓库类型，如 "memory", "pgvector", "faiss"
	Path              string       // 数据库文件路径或连接串
	Dimension         int          // 向量维度
	DistanceType      DistanceType // 距离计算类型
	CreateIfNotExists bool         // 如果不存在是否创建
	InMemory          bool         // 是否仅在内存中运行
}

// Factory 向量仓库工厂函数类型
type Factory func(config Config) (Repository, error)

// RepositoryRegistry 注册可用的向量仓库实现
var RepositoryRegistry = map[string]Factory{}

// RegisterRepository 注册向量仓库工厂函数
func RegisterRepository(name string, factory Factory) {
	RepositoryRegistry[name] = factory
}

// NewRepository 根据配置创建向量仓库实例
func NewRepository(config Config) (Repository, error) {
	factory, ok := RepositoryRegistry[config.Type]
	if !ok {
		// 默认使用内存实现
		factory = NewMemoryRepository
	}
	return factory(config)
}
