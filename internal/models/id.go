package models

import (
	"fmt"

	"github.com/google/uuid"
)

// NewDocumentID 生成新的文档ID
func NewDocumentID() string {
	return uuid.New().String()
}

// ParseDocumentID 在入口处校验文档ID格式
// 校验一次后内部各层不再重复检查
func ParseDocumentID(s string) (string, error) {
	if s == "" {
		return "", ErrInvalidDocumentID
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidDocumentID, s)
	}
	return s, nil
}

// NewChunkID 生成文档分块的确定性ID
// 同一文档同一序号总是得到相同ID，重新摄取时自然覆盖
func NewChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_%d", documentID, index)
}
