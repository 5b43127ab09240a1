package repository

import (
	"context"

	"github.com/raglite/doc-retrieval-system/internal/models"
)

// DocumentRepository 文档仓储接口
// 负责文档元数据的存储和检索，分块内容由向量仓库管理
type DocumentRepository interface {
	// Create 创建文档记录
	Create(doc *models.Document) error

	// Update 更新文档记录
	Update(doc *models.Document) error

	// GetByID 根据ID获取文档
	GetByID(id string) (*models.Document, error)

	// List 列出文档列表，支持分页和筛选
	List(offset, limit int, filters map[string]interface{}) ([]*models.Document, int64, error)

	// Delete 删除文档
	Delete(id string) error

	// UpdateStatus 更新文档状态
	UpdateStatus(id string, status models.DocumentStatus, errorMsg string) error

	// UpdateProgress 更新文档处理进度
	UpdateProgress(id string, progress int) error

	// UpdateStage 更新文档当前处理阶段
	UpdateStage(id string, stage models.ProcessStage) error

	// UpdateCounts 更新文档的分块数量和已向量化数量
	UpdateCounts(id string, segmentCount, embeddedCount int) error

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) DocumentRepository
}
