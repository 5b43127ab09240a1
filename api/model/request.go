package model

import (
	"mime/multipart"
	"time"
)

// PaginationRequest 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// DocumentUploadRequest 文档上传请求
type DocumentUploadRequest struct {
	File *multipart.FileHeader `form:"file" binding:"required"`      // 文件对象
	Tags string                `form:"tags" json:"tags" binding:"omitempty"` // 文档标签，逗号分隔
}

// DocumentIDRequest 按ID操作文档的路径参数
type DocumentIDRequest struct {
	ID string `uri:"id" binding:"required"` // 文档ID
}

// DocumentListRequest 文档列表请求
type DocumentListRequest struct {
	PaginationRequest
	StartTime *time.Time `form:"start_time" json:"start_time" binding:"omitempty"` // 开始时间
	EndTime   *time.Time `form:"end_time" json:"end_time" binding:"omitempty"`     // 结束时间
	Status    string     `form:"status" json:"status" binding:"omitempty"`         // 文档状态
	Tags      string     `form:"tags" json:"tags" binding:"omitempty"`             // 标签过滤
	FileName  string     `form:"file_name" json:"file_name" binding:"omitempty"`   // 文件名模糊匹配
}

// DocumentTagsRequest 文档标签更新请求
type DocumentTagsRequest struct {
	Tags []string `json:"tags" binding:"required"` // 新的标签集合
}

// SearchRequest 相似度检索请求
type SearchRequest struct {
	Query      string  `json:"query" binding:"required"`               // 查询文本
	DocumentID string  `json:"document_id" binding:"omitempty"`        // 可选的文档范围
	TopK       int     `json:"top_k" binding:"omitempty,min=1,max=50"` // 返回结果数上限
	MinScore   float32 `json:"min_score" binding:"omitempty"`          // 相似度阈值
}

// QARequest 问答请求
type QARequest struct {
	Question   string `json:"question" binding:"required"`     // 问题内容
	DocumentID string `json:"document_id" binding:"omitempty"` // 可选，限定在单个文档内回答
}
