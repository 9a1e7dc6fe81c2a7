package blob

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Gopher0727/Warden/config"
)

type Minio struct {
	client   *minio.Client
	bucket   string
	basePath string
}

func NewMinio(cfg *config.StorageConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: minio client: %w", err)
	}
	return &Minio{client: client, bucket: cfg.Bucket, basePath: cfg.BasePath}, nil
}

func isMinioNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (m *Minio) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	_, err := m.client.PutObject(ctx, m.bucket, withBase(m.basePath, key), r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

type minioObject struct {
	*minio.Object
	info minio.ObjectInfo
}

func (o *minioObject) Size() int64        { return o.info.Size }
func (o *minioObject) ModTime() time.Time { return o.info.LastModified }

func (m *Minio) Open(ctx context.Context, key string) (Object, error) {
	if !validKey(key) {
		return nil, ErrInvalidKey
	}
	obj, err := m.client.GetObject(ctx, m.bucket, withBase(m.basePath, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat performs the request
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isMinioNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &minioObject{Object: obj, info: info}, nil
}

func (m *Minio) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	err := m.client.RemoveObject(ctx, m.bucket, withBase(m.basePath, key), minio.RemoveObjectOptions{})
	if err != nil && !isMinioNotFound(err) {
		return err
	}
	return nil
}

func (m *Minio) Exists(ctx context.Context, key string) (bool, error) {
	if !validKey(key) {
		return false, ErrInvalidKey
	}
	_, err := m.client.StatObject(ctx, m.bucket, withBase(m.basePath, key), minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
