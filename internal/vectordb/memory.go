package vectordb

import (
	"sync"
	"time"
)

// MemoryRepository 内存向量仓库实现
// 用于开发和测试环境的简单内存存储
type MemoryRepository struct {
	mu            sync.RWMutex        // 读写锁，确保并发安全
	chunks        map[string]Chunk    // 分块存储，ID到分块的映射
	docToChunkIDs map[string][]string // 文档ID到分块ID的映射
	dimension     int                 // 向量维度
	distType      DistanceType        // 距离计算类型
}

// NewMemoryRepository 创建内存向量仓库
func NewMemoryRepository(config Config) (Repository, error) {
	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}

	return &MemoryRepository{
		chunks:        make(map[string]Chunk),
		docToChunkIDs: make(map[string][]string),
		dimension:     config.Dimension,
		distType:      distType,
	}, nil
}

// AddBatch 原子地写入一个文档的全部分块
// 在同一把锁内先移除涉及文档的旧分块再写入新分块，
// 并发的重新摄取不会产生新旧混合的分块集合
func (m *MemoryRepository) AddBatch(chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	// 先在锁外完成校验，保证要么全部写入要么全部失败
	for i := range chunks {
		if chunks[i].ID == "" {
			return ErrInvalidID
		}
		if chunks[i].HasEmbedding() {
			if err := ValidateVector(chunks[i].Vector, m.dimension); err != nil {
				return err
			}
		}
		if chunks[i].CreatedAt.IsZero() {
			chunks[i].CreatedAt = time.Now()
		}
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = make(map[string]interface{})
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, c := range chunks {
		if !seen[c.DocumentID] {
			seen[c.DocumentID] = true
			m.removeDocumentLocked(c.DocumentID)
		}
	}

	for _, c := range chunks {
		m.chunks[c.ID] = c
		m.docToChunkIDs[c.DocumentID] = append(m.docToChunkIDs[c.DocumentID], c.ID)
	}

	return nil
}

// Get 获取单个分块
func (m *MemoryRepository) Get(id string) (Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chunk, exists := m.chunks[id]
	if !exists {
		return Chunk{}, ErrChunkNotFound
	}
	return chunk, nil
}

// MissingEmbedding 列出尚无向量的分块
func (m *MemoryRepository) MissingEmbedding(documentID string) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Chunk
	if documentID != "" {
		for _, id := range m.docToChunkIDs[documentID] {
			if c, ok := m.chunks[id]; ok && !c.HasEmbedding() {
				result = append(result, c)
			}
		}
	} else {
		for _, c := range m.chunks {
			if !c.HasEmbedding() {
				result = append(result, c)
			}
		}
	}

	sortChunksByOrder(result)
	return result, nil
}

// SetEmbedding 为分块写入向量
func (m *MemoryRepository) SetEmbedding(id string, vector []float32) error {
	if err := ValidateVector(vector, m.dimension); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	chunk, exists := m.chunks[id]
	if !exists {
		return ErrChunkNotFound
	}

	chunk.Vector = vector
	m.chunks[id] = chunk
	return nil
}

// Search 相似度搜索
// 仅扫描已有向量的分块，查询向量维度不一致时按公共前缀降级计算
func (m *MemoryRepository) Search(vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	docFilter := make(map[string]bool, len(filter.DocumentIDs))
	for _, id := range filter.DocumentIDs {
		docFilter[id] = true
	}

	var results []SearchResult
	for _, chunk := range m.chunks {
		if !chunk.HasEmbedding() {
			continue
		}
		if len(docFilter) > 0 && !docFilter[chunk.DocumentID] {
			continue
		}

		dist, err := ComputeDistance(vector, chunk.Vector, m.distType)
		if err != nil {
			return nil, err
		}

		score := DistanceToScore(dist, m.distType)
		if score < filter.MinScore {
			continue
		}

		results = append(results, SearchResult{
			Chunk:    chunk,
			Score:    score,
			Distance: dist,
		})
	}

	SortSearchResults(results)

	maxResults := filter.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultSearchFilter().MaxResults
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	return results, nil
}

// Delete 删除单个分块
func (m *MemoryRepository) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chunk, exists := m.chunks[id]
	if !exists {
		return ErrChunkNotFound
	}

	delete(m.chunks, id)

	ids := m.docToChunkIDs[chunk.DocumentID]
	updated := make([]string, 0, len(ids))
	for _, cid := range ids {
		if cid != id {
			updated = append(updated, cid)
		}
	}
	if len(updated) == 0 {
		delete(m.docToChunkIDs, chunk.DocumentID)
	} else {
		m.docToChunkIDs[chunk.DocumentID] = updated
	}

	return nil
}

// DeleteByDocumentID 删除指定文档的所有分块
func (m *MemoryRepository) DeleteByDocumentID(documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeDocumentLocked(documentID)
	return nil
}

// removeDocumentLocked 在持有写锁的前提下移除文档的全部分块
func (m *MemoryRepository) removeDocumentLocked(documentID string) {
	for _, id := range m.docToChunkIDs[documentID] {
		delete(m.chunks, id)
	}
	delete(m.docToChunkIDs, documentID)
}

// Count 获取分块总数
func (m *MemoryRepository) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

// GetDimension 返回向量维数
func (m *MemoryRepository) GetDimension() int {
	return m.dimension
}

// Close 关闭仓库
func (m *MemoryRepository) Close() error {
	return nil
}

// 在包初始化时注册内存实现
func init() {
	RegisterRepository("memory", NewMemoryRepository)
}
