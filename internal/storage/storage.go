// Package storage хранилище вложений заявок в MinIO/S3.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/untibullet/request-desk/internal/config"
	"github.com/untibullet/request-desk/internal/models"
)

// ObjectStore операции над файлами вложений
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	URL(ctx context.Context, key string) (string, error)
}

type MinioStore struct {
	client *minio.Client
	bucket string
	urlTTL time.Duration
}

// NewMinio подключается к хранилищу и создает бакет, если его нет
func NewMinio(ctx context.Context, cfg config.StorageConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, urlTTL: ttl}, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object %s: %w", key, err)
	}
	return nil
}

// URL временная ссылка на скачивание
func (s *MinioStore) URL(ctx context.Context, key string) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("inline; filename=%q", path.Base(key)))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.urlTTL, params)
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", key, err)
	}
	return u.String(), nil
}

// ObjectKey requests/<request>/<uuid><ext>; имя файла от клиента в ключ не попадает
func ObjectKey(requestID uuid.UUID, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return fmt.Sprintf("requests/%s/%s%s", requestID, uuid.NewString(), ext)
}

var documentTypes = map[string]bool{
	"application/pdf":               true,
	"application/msword":            true,
	"application/rtf":               true,
	"application/vnd.ms-excel":      true,
	"application/vnd.ms-powerpoint": true,
	"text/plain":                    true,
	"text/csv":                      true,
}

// ClassifyMime относит mime-тип к одному из классов вложений
func ClassifyMime(mime string) models.FileKind {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	switch {
	case strings.HasPrefix(mime, "image/"):
		return models.FileImage
	case strings.HasPrefix(mime, "audio/"):
		return models.FileAudio
	case strings.HasPrefix(mime, "video/"):
		return models.FileVideo
	case documentTypes[mime],
		strings.HasPrefix(mime, "application/vnd.openxmlformats-officedocument."),
		strings.HasPrefix(mime, "application/vnd.oasis.opendocument."):
		return models.FileDocument
	default:
		return models.FileOther
	}
}
