package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/raglite/doc-retrieval-system/api/middleware"
	"github.com/raglite/doc-retrieval-system/api/model"
	"github.com/raglite/doc-retrieval-system/internal/models"
	"github.com/raglite/doc-retrieval-system/internal/queue"
	"github.com/raglite/doc-retrieval-system/internal/services"
)

// DocumentHandler 处理文档相关的API请求
type DocumentHandler struct {
	documentService *services.DocumentService // 文档服务
	dispatcher      queue.Dispatcher          // 后台处理任务派发器
	logger          *logrus.Logger            // 日志记录器
}

// NewDocumentHandler 创建新的文档处理器
// dispatcher为nil时回退到进程内派发
func NewDocumentHandler(documentService *services.DocumentService, dispatcher queue.Dispatcher) *DocumentHandler {
	if dispatcher == nil {
		dispatcher = queue.NewInlineDispatcher(
			documentService.ProcessDocument,
			10*time.Minute,
			middleware.GetLogger(),
		)
	}
	return &DocumentHandler{
		documentService: documentService,
		dispatcher:      dispatcher,
		logger:          middleware.GetLogger(),
	}
}

// UploadDocument 处理文档上传请求
// POST /api/documents
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	var req model.DocumentUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid document upload request")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数",
		))
		return
	}

	if req.File == nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"未提供文件",
		))
		return
	}

	filename := req.File.Filename
	file, err := req.File.Open()
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"filename": filename,
		}).Error("Failed to open uploaded file")

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"无法打开上传的文件",
		))
		return
	}
	defer file.Close()

	docID, err := h.documentService.UploadDocument(c.Request.Context(), file, filename)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"filename": filename,
		}).Warn("Failed to accept uploaded document")

		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"不支持的文件类型或保存失败，仅支持 .md, .markdown, .txt",
		))
		return
	}

	if req.Tags != "" {
		tags := strings.Split(req.Tags, ",")
		if err := h.documentService.UpdateDocumentTags(c.Request.Context(), docID, tags); err != nil {
			h.logger.WithField("doc_id", docID).WithError(err).Warn("Failed to set document tags")
		}
	}

	// 后台处理文档，状态通过 /status 端点查询
	if _, err := h.dispatcher.Dispatch(c.Request.Context(), docID); err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":  err.Error(),
			"doc_id": docID,
		}).Error("Failed to dispatch document processing")
	}

	resp := model.DocumentUploadResponse{
		DocumentID: docID,
		FileName:   filename,
		Status:     string(models.DocStatusUploaded),
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetDocumentStatus 获取文档处理状态
// GET /api/documents/:id/status
func (h *DocumentHandler) GetDocumentStatus(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	if _, err := models.ParseDocumentID(req.ID); err != nil {
		middleware.HandleError(c, err)
		return
	}

	doc, err := h.documentService.GetStatusManager().GetDocument(c.Request.Context(), req.ID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	resp := model.DocumentStatusResponse{
		DocumentID:    doc.ID,
		Status:        string(doc.Status),
		Stage:         string(doc.CurrentStage),
		Progress:      doc.Progress,
		FileName:      doc.FileName,
		SegmentCount:  doc.SegmentCount,
		EmbeddedCount: doc.EmbeddedCount,
		Error:         doc.Error,
		UploadedAt:    doc.UploadedAt.Format(time.RFC3339),
		UpdatedAt:     doc.UpdatedAt.Format(time.RFC3339),
	}
	if doc.ProcessedAt != nil {
		resp.ProcessedAt = doc.ProcessedAt.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// ListDocuments 获取文档列表
// GET /api/documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	var req model.DocumentListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的查询参数"))
		return
	}

	filters := make(map[string]interface{})
	if req.Status != "" {
		filters["status"] = req.Status
	}
	if req.Tags != "" {
		filters["tags"] = req.Tags
	}
	if req.FileName != "" {
		filters["file_name"] = req.FileName
	}
	if req.StartTime != nil {
		filters["start_time"] = req.StartTime.Format(time.RFC3339)
	}
	if req.EndTime != nil {
		filters["end_time"] = req.EndTime.Format(time.RFC3339)
	}

	page := req.GetPage()
	pageSize := req.GetPageSize()
	offset := (page - 1) * pageSize

	docs, total, err := h.documentService.ListDocuments(c.Request.Context(), offset, pageSize, filters)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	items := make([]model.DocumentInfo, 0, len(docs))
	for _, doc := range docs {
		items = append(items, model.ConvertDocumentInfo(doc))
	}

	resp := model.DocumentListResponse{
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
		Documents: items,
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// DeleteDocument 删除文档
// DELETE /api/documents/:id
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	var req model.DocumentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	if err := h.documentService.DeleteDocument(c.Request.Context(), req.ID); err != nil {
		middleware.HandleError(c, err)
		return
	}

	h.logger.WithField("doc_id", req.ID).Info("Document deleted successfully")

	resp := model.DocumentDeleteResponse{
		Success:    true,
		DocumentID: req.ID,
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// UpdateDocumentTags 更新文档标签
// PUT /api/documents/:id/tags
func (h *DocumentHandler) UpdateDocumentTags(c *gin.Context) {
	var uri model.DocumentIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	var req model.DocumentTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的请求参数"))
		return
	}

	if err := h.documentService.UpdateDocumentTags(c.Request.Context(), uri.ID, req.Tags); err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{"document_id": uri.ID}))
}
