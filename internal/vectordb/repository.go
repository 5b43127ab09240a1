package vectordb

import (
	"fmt"
	"math"
	"sort"
)

// ComputeDistance 计算两个向量间的距离
func ComputeDistance(v1, v2 []float32, distType DistanceType) (float32, error) {
	if len(v1) == 0 || len(v2) == 0 {
		return 0, ErrEmptyVector
	}

	switch distType {
	case Cosine:
		return cosineDistance(v1, v2), nil
	case DotProduct:
		return dotProduct(v1, v2), nil
	case Euclidean:
		return euclideanDistance(v1, v2), nil
	default:
		return 0, fmt.Errorf("unsupported distance type: %s", distType)
	}
}

// cosineDistance 计算余弦距离
// 维度不同时按较短的前缀计算，调用方可据此实现降级查询
func cosineDistance(v1, v2 []float32) float32 {
	// 余弦相似度 = 点积 / (||v1|| * ||v2||)
	// 余弦距离 = 1 - 余弦相似度
	n := len(v1)
	if len(v2) < n {
		n = len(v2)
	}

	dot := dotProduct(v1[:n], v2[:n])
	norm1 := vectorNorm(v1[:n])
	norm2 := vectorNorm(v2[:n])

	if norm1 == 0 || norm2 == 0 {
		return 1.0 // 最大距离
	}

	similarity := dot / (norm1 * norm2)
	// 处理浮点精度问题
	if similarity > 1.0 {
		similarity = 1.0
	}

	return 1.0 - similarity
}

// dotProduct 计算两个向量的点积
func dotProduct(v1, v2 []float32) float32 {
	var dot float32
	for i := 0; i < len(v1) && i < len(v2); i++ {
		dot += v1[i] * v2[i]
	}
	return dot
}

// euclideanDistance 计算欧几里德距离
func euclideanDistance(v1, v2 []float32) float32 {
	var sum float32
	for i := 0; i < len(v1) && i < len(v2); i++ {
		d := v1[i] - v2[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// vectorNorm 计算向量的L2范数
func vectorNorm(v []float32) float32 {
	var sum float32
	for _, val := range v {
		sum += val * val
	}
	return float32(math.Sqrt(float64(sum)))
}

// normalizeVector 归一化向量（使其长度为1）
func normalizeVector(v []float32) []float32 {
	norm := vectorNorm(v)
	if norm == 0 {
		return v // 零向量无法归一化
	}

	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}

// DistanceToScore 将距离转换为相似度得分
func DistanceToScore(dist float32, distType DistanceType) float32 {
	switch distType {
	case Cosine:
		return 1.0 - dist
	case DotProduct:
		// 内积索引返回的就是相似度
		return dist
	case Euclidean:
		return 1.0 / (1.0 + dist)
	default:
		return 1.0 - dist
	}
}

// ValidateVector 校验向量的有效性和维度
func ValidateVector(vector []float32, dimension int) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	if dimension > 0 && len(vector) != dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, len(vector), dimension)
	}
	return nil
}

// sortChunksByOrder 按文档ID和分块序号排序
func sortChunksByOrder(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].DocumentID != chunks[j].DocumentID {
			return chunks[i].DocumentID < chunks[j].DocumentID
		}
		return chunks[i].Index < chunks[j].Index
	})
}

// SortSearchResults 对搜索结果做确定性排序
// 按得分降序，同分时按分块序号升序，再按创建时间升序
func SortSearchResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.Index != results[j].Chunk.Index {
			return results[i].Chunk.Index < results[j].Chunk.Index
		}
		return results[i].Chunk.CreatedAt.Before(results[j].Chunk.CreatedAt)
	})
}
