package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minioPrefix 文档对象在桶内的公共前缀
const minioPrefix = "documents/"

// MinioStorage MinIO存储实现
// 对象键为 documents/<文档ID><扩展名>，按文档ID前缀即可定位
type MinioStorage struct {
	client     *minio.Client // MinIO客户端
	bucketName string        // 存储桶名称
}

// MinioConfig MinIO存储配置
type MinioConfig struct {
	Endpoint  string // MinIO服务端点
	AccessKey string // 访问密钥ID
	SecretKey string // 秘密访问密钥
	UseSSL    bool   // 是否使用SSL
	Bucket    string // 存储桶名称
}

// NewMinioStorage 创建MinIO存储实例
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %v", err)
	}

	// 检查存储桶是否存在，不存在则创建
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %v", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %v", err)
		}
	}

	return &MinioStorage{
		client:     client,
		bucketName: cfg.Bucket,
	}, nil
}

// Put 保存文档文件
// 直接流式上传，大小由MinIO客户端分片处理，不经过内存缓冲
func (s *MinioStorage) Put(ctx context.Context, documentID, fileName string, reader io.Reader) (Object, error) {
	if documentID == "" {
		return Object{}, fmt.Errorf("document id is required")
	}

	// 清除同一文档名下的旧对象，避免扩展名变化留下残留
	if err := s.removeVariants(ctx, documentID); err != nil {
		return Object{}, err
	}

	key := minioPrefix + objectKey(documentID, fileName)
	contentType := contentTypeFor(fileName)

	info, err := s.client.PutObject(
		ctx,
		s.bucketName,
		key,
		reader,
		-1,
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return Object{}, fmt.Errorf("failed to upload file: %v", err)
	}

	return Object{
		DocumentID:  documentID,
		FileName:    fileName,
		Size:        info.Size,
		ContentType: contentType,
		Key:         key,
	}, nil
}

// Open 按文档ID读取文件内容
func (s *MinioStorage) Open(ctx context.Context, documentID string) (io.ReadCloser, error) {
	object, err := s.locate(ctx, documentID)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, object.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %v", err)
	}

	return obj, nil
}

// Stat 返回文档文件的元数据
func (s *MinioStorage) Stat(ctx context.Context, documentID string) (Object, error) {
	return s.locate(ctx, documentID)
}

// Remove 删除文档文件
func (s *MinioStorage) Remove(ctx context.Context, documentID string) error {
	object, err := s.locate(ctx, documentID)
	if err != nil {
		return err
	}

	if err := s.client.RemoveObject(ctx, s.bucketName, object.Key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %v", err)
	}

	return nil
}

// List 列出全部存储对象
func (s *MinioStorage) List(ctx context.Context) ([]Object, error) {
	var objects []Object

	objectCh := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    minioPrefix,
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %v", object.Err)
		}

		objects = append(objects, Object{
			DocumentID:  documentIDFromKey(object.Key),
			FileName:    path.Base(object.Key),
			Size:        object.Size,
			ContentType: contentTypeFor(object.Key),
			Key:         object.Key,
		})
	}

	return objects, nil
}

// locate 按文档ID前缀在桶内定位对象
// 前缀查询只扫描该文档名下的键，不做全桶遍历
func (s *MinioStorage) locate(ctx context.Context, documentID string) (Object, error) {
	if documentID == "" {
		return Object{}, ErrNotFound
	}

	objectCh := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    minioPrefix + documentID,
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return Object{}, fmt.Errorf("error locating object: %v", object.Err)
		}
		if documentIDFromKey(object.Key) != documentID {
			continue
		}

		return Object{
			DocumentID:  documentID,
			FileName:    path.Base(object.Key),
			Size:        object.Size,
			ContentType: contentTypeFor(object.Key),
			Key:         object.Key,
		}, nil
	}

	return Object{}, ErrNotFound
}

// removeVariants 清除同一文档ID名下的全部旧对象
func (s *MinioStorage) removeVariants(ctx context.Context, documentID string) error {
	for {
		object, err := s.locate(ctx, documentID)
		if err == ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.client.RemoveObject(ctx, s.bucketName, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to replace object: %v", err)
		}
	}
}
