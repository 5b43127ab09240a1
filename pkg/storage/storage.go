package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// ErrNotFound 文档对应的存储对象不存在
var ErrNotFound = errors.New("stored document file not found")

// Object 已存储文档文件的元数据
type Object struct {
	DocumentID  string // 所属文档ID，同时是检索键
	FileName    string // 文件名
	Size        int64  // 文件大小(字节)
	ContentType string // MIME类型
	Key         string // 实现内部的对象键
}

// Storage 文档原始文件的存储接口
// 对象以文档ID为键，同一文档重复写入时替换旧文件
// 可以有不同实现(本地文件系统、MinIO等)
type Storage interface {
	// Put 保存文档文件并返回对象元数据
	Put(ctx context.Context, documentID, fileName string, reader io.Reader) (Object, error)

	// Open 按文档ID读取文件内容，对象不存在时返回ErrNotFound
	Open(ctx context.Context, documentID string) (io.ReadCloser, error)

	// Stat 返回文档文件的元数据，对象不存在时返回ErrNotFound
	Stat(ctx context.Context, documentID string) (Object, error)

	// Remove 删除文档文件，对象不存在时返回ErrNotFound
	Remove(ctx context.Context, documentID string) error

	// List 列出全部存储对象
	List(ctx context.Context) ([]Object, error)
}

// objectKey 由文档ID和原始文件扩展名构成对象键
// 键是确定性的，读取时无需额外的ID到路径映射
func objectKey(documentID, fileName string) string {
	return documentID + strings.ToLower(filepath.Ext(fileName))
}

// documentIDFromKey 从对象键还原文档ID
func documentIDFromKey(key string) string {
	base := filepath.Base(key)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// contentTypeFor 根据扩展名判断内容类型
// 流水线只接受纯文本类文档，其余一律按二进制处理
func contentTypeFor(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt", ".text":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
