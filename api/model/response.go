package model

import (
	"fmt"
	"time"

	"github.com/raglite/doc-retrieval-system/internal/llm"
	"github.com/raglite/doc-retrieval-system/internal/models"
	"github.com/raglite/doc-retrieval-system/internal/vectordb"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// DocumentUploadResponse 文档上传响应
type DocumentUploadResponse struct {
	DocumentID string `json:"document_id"` // 文档ID
	FileName   string `json:"filename"`    // 文件名
	Status     string `json:"status"`      // 文档状态
}

// DocumentStatusResponse 文档状态查询响应
type DocumentStatusResponse struct {
	DocumentID    string `json:"document_id"`            // 文档ID
	Status        string `json:"status"`                 // 处理状态
	Stage         string `json:"stage,omitempty"`        // 当前处理阶段
	Progress      int    `json:"progress"`               // 处理进度（0-100）
	FileName      string `json:"filename"`               // 文件名
	SegmentCount  int    `json:"segment_count"`          // 分块数量
	EmbeddedCount int    `json:"embedded_count"`         // 已向量化的分块数量
	Error         string `json:"error,omitempty"`        // 错误信息（如果有）
	UploadedAt    string `json:"uploaded_at"`            // 上传时间
	ProcessedAt   string `json:"processed_at,omitempty"` // 处理完成时间
	UpdatedAt     string `json:"updated_at"`             // 更新时间
}

// DocumentInfo 文档列表项
type DocumentInfo struct {
	DocumentID    string `json:"document_id"`    // 文档ID
	FileName      string `json:"filename"`       // 文件名
	FileType      string `json:"file_type"`      // 文件类型
	Status        string `json:"status"`         // 状态
	Tags          string `json:"tags"`           // 标签
	SegmentCount  int    `json:"segment_count"`  // 分块数量
	EmbeddedCount int    `json:"embedded_count"` // 已向量化的分块数量
	UploadedAt    string `json:"uploaded_at"`    // 上传时间
}

// DocumentListResponse 文档列表响应
type DocumentListResponse struct {
	Total     int64          `json:"total"`     // 总数量
	Page      int            `json:"page"`      // 当前页码
	PageSize  int            `json:"page_size"` // 每页大小
	Documents []DocumentInfo `json:"documents"` // 文档列表
}

// DocumentDeleteResponse 文档删除响应
type DocumentDeleteResponse struct {
	Success    bool   `json:"success"`     // 是否成功
	DocumentID string `json:"document_id"` // 文档ID
}

// SearchResultInfo 检索结果项
// 分数固定保留四位小数，保证展示结果的一致性
type SearchResultInfo struct {
	DocumentID string `json:"document_id"` // 文档ID
	FileName   string `json:"filename"`    // 文件名
	ChunkIndex int    `json:"chunk_index"` // 分块序号
	Content    string `json:"content"`     // 分块内容
	Score      string `json:"score"`       // 相似度得分
}

// SearchResponse 相似度检索响应
type SearchResponse struct {
	Query   string             `json:"query"`   // 查询文本
	Results []SearchResultInfo `json:"results"` // 结果列表，按得分降序
}

// QASourceInfo 问答引用来源
type QASourceInfo struct {
	DocumentID string `json:"document_id"` // 文档ID
	FileName   string `json:"filename"`    // 文件名
	Category   string `json:"category"`    // 来源类别
	ChunkIndex int    `json:"chunk_index"` // 分块序号
	Score      string `json:"score"`       // 相似度得分
	Preview    string `json:"preview"`     // 内容预览
}

// QAResponse 问答响应
type QAResponse struct {
	Question string         `json:"question"` // 用户问题
	Answer   string         `json:"answer"`   // 生成的回答
	Sources  []QASourceInfo `json:"sources"`  // 引用来源
}

// FormatScore 格式化相似度得分
func FormatScore(score float32) string {
	return fmt.Sprintf("%.4f", score)
}

// ConvertSearchResults 将向量检索结果转换为响应结构
func ConvertSearchResults(results []vectordb.SearchResult) []SearchResultInfo {
	items := make([]SearchResultInfo, 0, len(results))
	for _, result := range results {
		items = append(items, SearchResultInfo{
			DocumentID: result.Chunk.DocumentID,
			FileName:   result.Chunk.FileName,
			ChunkIndex: result.Chunk.Index,
			Content:    result.Chunk.Content,
			Score:      FormatScore(result.Score),
		})
	}
	return items
}

// ConvertSources 将引用来源转换为响应结构
func ConvertSources(sources []llm.SourceReference) []QASourceInfo {
	items := make([]QASourceInfo, 0, len(sources))
	for _, source := range sources {
		items = append(items, QASourceInfo{
			DocumentID: source.DocumentID,
			FileName:   source.FileName,
			Category:   source.Category,
			ChunkIndex: source.ChunkIndex,
			Score:      FormatScore(source.Score),
			Preview:    source.Preview,
		})
	}
	return items
}

// ConvertDocumentInfo 将文档模型转换为列表项
func ConvertDocumentInfo(doc *models.Document) DocumentInfo {
	return DocumentInfo{
		DocumentID:    doc.ID,
		FileName:      doc.FileName,
		FileType:      doc.FileType,
		Status:        string(doc.Status),
		Tags:          doc.Tags,
		SegmentCount:  doc.SegmentCount,
		EmbeddedCount: doc.EmbeddedCount,
		UploadedAt:    doc.UploadedAt.Format(time.RFC3339),
	}
}
