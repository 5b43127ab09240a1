package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/raglite/doc-retrieval-system/api/middleware"
	"github.com/raglite/doc-retrieval-system/api/model"
	"github.com/raglite/doc-retrieval-system/internal/llm"
	"github.com/raglite/doc-retrieval-system/internal/services"
)

// QAHandler 处理检索与问答相关的API请求
type QAHandler struct {
	qaService *services.QAService // 问答服务
	logger    *logrus.Logger      // 日志记录器
}

// NewQAHandler 创建新的问答处理器
func NewQAHandler(qaService *services.QAService) *QAHandler {
	return &QAHandler{
		qaService: qaService,
		logger:    middleware.GetLogger(),
	}
}

// Search 相似度检索
// POST /api/search
func (h *QAHandler) Search(c *gin.Context) {
	var req model.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数",
		))
		return
	}

	var documentIDs []string
	if req.DocumentID != "" {
		documentIDs = []string{req.DocumentID}
	}

	results, err := h.qaService.Retrieve(c.Request.Context(), req.Query, documentIDs...)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	resp := model.SearchResponse{
		Query:   req.Query,
		Results: model.ConvertSearchResults(results),
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// AnswerQuestion 处理问答请求
// POST /api/qa
func (h *QAHandler) AnswerQuestion(c *gin.Context) {
	var req model.QARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid question request")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数",
		))
		return
	}

	ctx := c.Request.Context()

	var response *llm.RAGResponse
	var err error

	if req.DocumentID != "" {
		h.logger.WithFields(logrus.Fields{
			"question": req.Question,
			"doc_id":   req.DocumentID,
		}).Info("Question scoped to document")

		response, err = h.qaService.AnswerWithDocument(ctx, req.Question, req.DocumentID)
	} else {
		h.logger.WithField("question", req.Question).Info("General question")
		response, err = h.qaService.Answer(ctx, req.Question)
	}

	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"question": req.Question,
		}).Error("Failed to answer question")

		middleware.HandleError(c, err)
		return
	}

	resp := model.QAResponse{
		Question: req.Question,
		Answer:   response.Answer,
		Sources:  model.ConvertSources(response.Sources),
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}
