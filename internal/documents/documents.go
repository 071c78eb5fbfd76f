// Package documents stores note attachments in S3-compatible object
// storage and hands out presigned URLs for them.
package documents

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"barriers/api/internal/notes"
)

// Storage is the object store behind documents.
type Storage interface {
	PresignUpload(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignDownload(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
	Remove(ctx context.Context, key string) error
}

// ObjectKey is where the bytes of a document live.
func ObjectKey(id uuid.UUID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return "documents/" + id.String() + "/" + name
}

type MinioStorage struct {
	client *minio.Client
	bucket string
}

func NewMinio(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStorage{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinioStorage) PresignUpload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, ttl)
	if err != nil {
		return "", fmt.Errorf("presign upload: %w", err)
	}
	return u.String(), nil
}

func (s *MinioStorage) PresignDownload(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}

func (s *MinioStorage) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// Memory is an in-process Storage used when no object store is configured.
type Memory struct {
	mu      sync.Mutex
	removed map[string]bool
}

func (m *Memory) PresignUpload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "memory://upload/" + key, nil
}

func (m *Memory) PresignDownload(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "memory://download/" + key, nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed == nil {
		m.removed = map[string]bool{}
	}
	m.removed[key] = true
	return nil
}

// Removed reports whether key was removed.
func (m *Memory) Removed(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed[key]
}

// DocumentStore is the persistence the purge sweep needs.
type DocumentStore interface {
	PurgeableDocuments(ctx context.Context) ([]notes.Document, error)
	SaveDocument(ctx context.Context, d notes.Document) error
}

// Purge removes the objects of detached documents and marks them purged.
// A failed removal is logged and retried on the next sweep.
func Purge(ctx context.Context, st DocumentStore, storage Storage, logger *slog.Logger, now time.Time) (int, error) {
	docs, err := st.PurgeableDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list purgeable documents: %w", err)
	}
	purged := 0
	for _, d := range docs {
		if err := storage.Remove(ctx, d.ObjectKey); err != nil {
			logger.Warn("purge document object", "document_id", d.ID, "error", err)
			continue
		}
		at := now
		d.PurgedOn = &at
		if err := st.SaveDocument(ctx, d); err != nil {
			return purged, fmt.Errorf("mark document purged: %w", err)
		}
		purged++
	}
	return purged, nil
}
