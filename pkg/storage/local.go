package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage 本地文件存储实现
// 对象按 <分片目录>/<文档ID><扩展名> 存放，分片取文档ID前两个字符
type LocalStorage struct {
	basePath string // 基础存储路径
}

// LocalConfig 本地存储配置
type LocalConfig struct {
	Path string // 本地存储路径
}

// NewLocalStorage 创建本地存储实例
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %v", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %v", err)
	}

	return &LocalStorage{
		basePath: absPath,
	}, nil
}

// Put 保存文档文件
// 同一文档重复写入时先清除旧文件，扩展名变化也不会留下残留
func (s *LocalStorage) Put(ctx context.Context, documentID, fileName string, reader io.Reader) (Object, error) {
	if documentID == "" {
		return Object{}, fmt.Errorf("document id is required")
	}

	dirPath := filepath.Join(s.basePath, shardDir(documentID))
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return Object{}, fmt.Errorf("failed to create directory: %v", err)
	}

	if err := s.removeVariants(documentID); err != nil {
		return Object{}, err
	}

	key := filepath.Join(shardDir(documentID), objectKey(documentID, fileName))
	filePath := filepath.Join(s.basePath, key)

	file, err := os.Create(filePath)
	if err != nil {
		return Object{}, fmt.Errorf("failed to create file: %v", err)
	}
	defer file.Close()

	size, err := io.Copy(file, reader)
	if err != nil {
		os.Remove(filePath)
		return Object{}, fmt.Errorf("failed to write file: %v", err)
	}

	return Object{
		DocumentID:  documentID,
		FileName:    fileName,
		Size:        size,
		ContentType: contentTypeFor(fileName),
		Key:         key,
	}, nil
}

// Open 按文档ID读取文件内容
func (s *LocalStorage) Open(ctx context.Context, documentID string) (io.ReadCloser, error) {
	filePath, err := s.lookup(documentID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}

	return file, nil
}

// Stat 返回文档文件的元数据
func (s *LocalStorage) Stat(ctx context.Context, documentID string) (Object, error) {
	filePath, err := s.lookup(documentID)
	if err != nil {
		return Object{}, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return Object{}, fmt.Errorf("failed to stat file: %v", err)
	}

	key, _ := filepath.Rel(s.basePath, filePath)
	return Object{
		DocumentID:  documentID,
		FileName:    filepath.Base(filePath),
		Size:        info.Size(),
		ContentType: contentTypeFor(filePath),
		Key:         key,
	}, nil
}

// Remove 删除文档文件
func (s *LocalStorage) Remove(ctx context.Context, documentID string) error {
	filePath, err := s.lookup(documentID)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file: %v", err)
	}

	return nil
}

// List 列出全部存储对象
func (s *LocalStorage) List(ctx context.Context) ([]Object, error) {
	var objects []Object

	err := filepath.Walk(s.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		key, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		objects = append(objects, Object{
			DocumentID:  documentIDFromKey(key),
			FileName:    filepath.Base(path),
			Size:        info.Size(),
			ContentType: contentTypeFor(path),
			Key:         key,
		})

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list files: %v", err)
	}

	return objects, nil
}

// lookup 定位文档文件的绝对路径
// 键是确定性的，只需在分片目录内匹配 <文档ID>.* 或无扩展名的裸文件
func (s *LocalStorage) lookup(documentID string) (string, error) {
	if documentID == "" {
		return "", ErrNotFound
	}

	dirPath := filepath.Join(s.basePath, shardDir(documentID))

	bare := filepath.Join(dirPath, documentID)
	if _, err := os.Stat(bare); err == nil {
		return bare, nil
	}

	matches, err := filepath.Glob(bare + ".*")
	if err != nil {
		return "", fmt.Errorf("failed to match stored file: %v", err)
	}
	if len(matches) == 0 {
		return "", ErrNotFound
	}

	return matches[0], nil
}

// removeVariants 清除同一文档ID名下的全部旧文件
func (s *LocalStorage) removeVariants(documentID string) error {
	for {
		path, err := s.lookup(documentID)
		if err != nil {
			if err == ErrNotFound {
				return nil
			}
			return err
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to replace stored file: %v", err)
		}
	}
}

// shardDir 取文档ID前两个字符作为分片目录
// 避免单个目录下堆积过多文件
func shardDir(documentID string) string {
	if len(documentID) < 2 {
		return documentID
	}
	return strings.ToLower(documentID[:2])
}
