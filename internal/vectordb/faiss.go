package vectordb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DataIntelligenceCrew/go-faiss"
)

// FaissRepository 实现基于Faiss的向量仓库
// 分块入库时可以没有向量，向量写入时才分配索引位置
type FaissRepository struct {
	mu             sync.RWMutex
	index          faiss.Index
	chunks         map[string]Chunk
	docToChunkIDs  map[string][]string
	idToPosition   map[string]int
	posToID        map[int]string
	indexPath      string
	metaPath       string
	dimension      int
	distanceType   DistanceType
	saveOnClose    bool
	autoSave       bool
	autoSaveCount  int
	operationCount int
}

// NewFaissRepository 创建新的Faiss向量仓库
func NewFaissRepository(config Config) (Repository, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	if config.Path != "" && !config.InMemory {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %v", err)
		}
	}

	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}

	indexPath := config.Path
	metaPath := ""
	if indexPath != "" {
		metaPath = indexPath + ".meta.json"
	}

	repo := &FaissRepository{
		chunks:        make(map[string]Chunk),
		docToChunkIDs: make(map[string][]string),
		idToPosition:  make(map[string]int),
		posToID:       make(map[int]string),
		indexPath:     indexPath,
		metaPath:      metaPath,
		dimension:     config.Dimension,
		distanceType:  distType,
		saveOnClose:   true,
		autoSave:      true,
		autoSaveCount: 100,
	}

	var index faiss.Index
	var err error

	// 尝试从文件加载索引
	if indexPath != "" && !config.InMemory && fileExists(indexPath) {
		index, err = faiss.ReadIndex(indexPath, 0)
		if err != nil {
			if config.CreateIfNotExists {
				index, err = createFaissIndex(config.Dimension, distType)
				if err != nil {
					return nil, fmt.Errorf("failed to create Faiss index: %v", err)
				}
			} else {
				return nil, fmt.Errorf("failed to read index file: %v", err)
			}
		} else {
			if err := repo.loadMetadata(metaPath); err != nil {
				return nil, fmt.Errorf("failed to load chunk metadata: %v", err)
			}
		}
	} else {
		index, err = createFaissIndex(config.Dimension, distType)
		if err != nil {
			return nil, fmt.Errorf("failed to create Faiss index: %v", err)
		}
	}

	repo.index = index
	return repo, nil
}

// createFaissIndex 创建Faiss索引
func createFaissIndex(dimension int, distType DistanceType) (faiss.Index, error) {
	var metric int
	switch distType {
	case Cosine, DotProduct:
		metric = faiss.MetricInnerProduct
	case Euclidean:
		metric = faiss.MetricL2
	default:
		metric = faiss.MetricL2
	}
	return faiss.NewIndexFlat(dimension, metric)
}

// AddBatch 原子地写入一个文档的全部分块
// 先删除涉及文档的旧分块再插入，旧的索引位置变为孤儿由搜索跳过
func (r *FaissRepository) AddBatch(chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i := range chunks {
		if chunks[i].ID == "" {
			return ErrInvalidID
		}
		if chunks[i].HasEmbedding() {
			if err := ValidateVector(chunks[i].Vector, r.dimension); err != nil {
				return fmt.Errorf("invalid vector for chunk %s: %v", chunks[i].ID, err)
			}
		}
		if chunks[i].CreatedAt.IsZero() {
			chunks[i].CreatedAt = time.Now()
		}
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = make(map[string]interface{})
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	for i := range chunks {
		docID := chunks[i].DocumentID
		if !seen[docID] {
			seen[docID] = true
			r.removeDocumentLocked(docID)
		}
	}

	for i := range chunks {
		c := chunks[i]
		if c.HasEmbedding() {
			vec := c.Vector
			if r.distanceType == Cosine {
				vec = normalizeVector(vec)
			}
			pos := int(r.index.Ntotal())
			if err := r.index.Add(vec); err != nil {
				return fmt.Errorf("failed to add vector to index: %v", err)
			}
			r.idToPosition[c.ID] = pos
			r.posToID[pos] = c.ID
		}
		r.chunks[c.ID] = c
		r.docToChunkIDs[c.DocumentID] = append(r.docToChunkIDs[c.DocumentID], c.ID)
	}
	r.operationCount += len(chunks)

	if r.autoSave && r.operationCount >= r.autoSaveCount {
		if err := r.saveIndex(); err != nil {
			return fmt.Errorf("auto-save failed: %v", err)
		}
		r.operationCount = 0
	}
	return nil
}

// removeDocumentLocked 删除指定文档的全部分块，调用方需持有写锁
func (r *FaissRepository) removeDocumentLocked(documentID string) {
	chunkIDs, exists := r.docToChunkIDs[documentID]
	if !exists {
		return
	}
	for _, id := range chunkIDs {
		if pos, ok := r.idToPosition[id]; ok {
			delete(r.posToID, pos)
			delete(r.idToPosition, id)
		}
		delete(r.chunks, id)
	}
	delete(r.docToChunkIDs, documentID)
	r.operationCount += len(chunkIDs)
}

// Get 获取单个分块
func (r *FaissRepository) Get(id string) (Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chunk, exists := r.chunks[id]
	if !exists {
		return Chunk{}, ErrChunkNotFound
	}
	return chunk, nil
}

// MissingEmbedding 列出尚无向量的分块
func (r *FaissRepository) MissingEmbedding(documentID string) ([]Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []Chunk
	for _, chunk := range r.chunks {
		if chunk.HasEmbedding() {
			continue
		}
		if documentID != "" && chunk.DocumentID != documentID {
			continue
		}
		missing = append(missing, chunk)
	}
	sortChunksByOrder(missing)
	return missing, nil
}

// SetEmbedding 为分块写入向量并分配索引位置
func (r *FaissRepository) SetEmbedding(id string, vector []float32) error {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chunk, exists := r.chunks[id]
	if !exists {
		return ErrChunkNotFound
	}

	vec := vector
	if r.distanceType == Cosine {
		vec = normalizeVector(vec)
	}

	// 重复写入时旧位置变为孤儿
	if pos, ok := r.idToPosition[id]; ok {
		delete(r.posToID, pos)
	}

	pos := int(r.index.Ntotal())
	if err := r.index.Add(vec); err != nil {
		return fmt.Errorf("failed to add vector to index: %v", err)
	}
	r.idToPosition[id] = pos
	r.posToID[pos] = id

	chunk.Vector = vector
	r.chunks[id] = chunk
	r.operationCount++

	if r.autoSave && r.operationCount >= r.autoSaveCount {
		if err := r.saveIndex(); err != nil {
			return fmt.Errorf("auto-save failed: %v", err)
		}
		r.operationCount = 0
	}
	return nil
}

// Search 相似度搜索
// 删除后残留在索引里的孤儿位置在这里被跳过
func (r *FaissRepository) Search(vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}
	if r.distanceType == Cosine {
		vector = normalizeVector(vector)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.posToID) == 0 {
		return []SearchResult{}, nil
	}

	k := filter.MaxResults
	if k <= 0 {
		k = DefaultSearchFilter().MaxResults
	}
	queryLimit := k * 2
	total := int(r.index.Ntotal())
	if queryLimit > total {
		queryLimit = total
	}
	if queryLimit == 0 {
		return []SearchResult{}, nil
	}

	distances, indices, err := r.index.Search(vector, int64(queryLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %v", err)
	}

	var results []SearchResult
	for i := 0; i < len(indices); i++ {
		idx := indices[i]
		if idx < 0 {
			continue
		}
		chunkID, found := r.posToID[int(idx)]
		if !found {
			continue
		}
		chunk, exists := r.chunks[chunkID]
		if !exists {
			continue
		}
		if len(filter.DocumentIDs) > 0 {
			match := false
			for _, id := range filter.DocumentIDs {
				if chunk.DocumentID == id {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		dist := distances[i]
		score := DistanceToScore(dist, r.distanceType)
		if score < filter.MinScore {
			continue
		}
		results = append(results, SearchResult{
			Chunk:    chunk,
			Score:    score,
			Distance: dist,
		})
		if len(results) >= k {
			break
		}
	}
	SortSearchResults(results)
	return results, nil
}

// Delete 删除单个分块
func (r *FaissRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunk, exists := r.chunks[id]
	if !exists {
		return ErrChunkNotFound
	}
	if pos, ok := r.idToPosition[id]; ok {
		delete(r.posToID, pos)
		delete(r.idToPosition, id)
	}
	delete(r.chunks, id)

	if chunkIDs, ok := r.docToChunkIDs[chunk.DocumentID]; ok {
		updated := make([]string, 0, len(chunkIDs)-1)
		for _, cid := range chunkIDs {
			if cid != id {
				updated = append(updated, cid)
			}
		}
		if len(updated) == 0 {
			delete(r.docToChunkIDs, chunk.DocumentID)
		} else {
			r.docToChunkIDs[chunk.DocumentID] = updated
		}
	}
	r.operationCount++
	return nil
}

// DeleteByDocumentID 删除指定文档的所有分块
func (r *FaissRepository) DeleteByDocumentID(documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeDocumentLocked(documentID)
	return nil
}

// Count 获取分块总数
func (r *FaissRepository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks), nil
}

// GetDimension 返回向量维数
func (r *FaissRepository) GetDimension() int {
	return r.dimension
}

// Close 关闭仓库
func (r *FaissRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveOnClose && r.indexPath != "" {
		if err := r.saveIndex(); err != nil {
			return fmt.Errorf("failed to save index on close: %v", err)
		}
	}
	return nil
}

// saveIndex 保存索引和分块数据到文件
func (r *FaissRepository) saveIndex() error {
	if r.indexPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.indexPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %v", err)
	}
	if err := faiss.WriteIndex(r.index, r.indexPath); err != nil {
		return fmt.Errorf("failed to write index to file: %v", err)
	}
	return r.saveMetadata()
}

// faissMetadata Faiss索引的元数据边车文件格式
type faissMetadata struct {
	Chunks         map[string]Chunk    `json:"chunks"`
	DocToChunkIDs  map[string][]string `json:"doc_to_chunk_ids"`
	IDToPosition   map[string]int      `json:"id_to_position"`
	OperationCount int                 `json:"operation_count"`
}

// saveMetadata 保存分块元数据到文件
func (r *FaissRepository) saveMetadata() error {
	if r.metaPath == "" {
		return nil
	}
	metadata := faissMetadata{
		Chunks:         r.chunks,
		DocToChunkIDs:  r.docToChunkIDs,
		IDToPosition:   r.idToPosition,
		OperationCount: r.operationCount,
	}
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(r.metaPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %v", err)
	}
	return nil
}

// loadMetadata 从文件加载分块元数据
func (r *FaissRepository) loadMetadata(path string) error {
	if path == "" || !fileExists(path) {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read metadata file: %v", err)
	}
	var metadata faissMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %v", err)
	}
	if metadata.Chunks != nil {
		r.chunks = metadata.Chunks
	}
	if metadata.DocToChunkIDs != nil {
		r.docToChunkIDs = metadata.DocToChunkIDs
	}
	if metadata.IDToPosition != nil {
		r.idToPosition = metadata.IDToPosition
		for id, pos := range metadata.IDToPosition {
			r.posToID[pos] = id
		}
	}
	r.operationCount = metadata.OperationCount
	return nil
}

// fileExists 检查文件是否存在
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func init() {
	RegisterRepository("faiss", NewFaissRepository)
}
