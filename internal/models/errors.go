package models

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentNotFound 文档不存在错误
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidDocumentID 文档ID格式无效错误
	ErrInvalidDocumentID = errors.New("invalid document id")

	// ErrInvalidDocumentStatus 无效的文档状态错误
	ErrInvalidDocumentStatus = errors.New("invalid document status")
)

// StatusTransitionError 非法的文档状态流转
// 携带当前状态和目标状态，API层据此返回冲突而不是笼统的内部错误
type StatusTransitionError struct {
	DocumentID string
	From       DocumentStatus
	To         DocumentStatus
}

// Error 实现error接口
func (e StatusTransitionError) Error() string {
	return fmt.Sprintf("document %s cannot move from %s to %s", e.DocumentID, e.From, e.To)
}

// Is 保持errors.Is(err, ErrInvalidDocumentStatus)语义
func (e StatusTransitionError) Is(target error) bool {
	return target == ErrInvalidDocumentStatus
}

// NewStatusTransitionError 创建状态流转错误
func NewStatusTransitionError(docID string, from, to DocumentStatus) StatusTransitionError {
	return StatusTransitionError{
		DocumentID: docID,
		From:       from,
		To:         to,
	}
}
