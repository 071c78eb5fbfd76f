package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"barriers/api/internal/documents"
	"barriers/api/internal/notes"
	"barriers/api/internal/rbac"
)

const maxDocumentSize = 50 << 20

// DocumentRequest registers a file before it is uploaded.
type DocumentRequest struct {
	Name     string `json:"original_filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// DocumentUpload is a registered document and where to PUT its bytes.
type DocumentUpload struct {
	notes.Document
	UploadURL string `json:"signed_upload_url"`
}

// CreateDocument records document metadata and returns a presigned upload
// URL. The document can then be attached to notes.
func (s *Service) CreateDocument(ctx context.Context, actor Actor, req DocumentRequest) (DocumentUpload, error) {
	if err := s.require(actor, rbac.ActionWrite); err != nil {
		return DocumentUpload{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return DocumentUpload{}, errInvalid("original_filename", "is required")
	}
	if req.Size <= 0 || req.Size > maxDocumentSize {
		return DocumentUpload{}, errInvalid("size", fmt.Sprintf("must be between 1 and %d bytes", maxDocumentSize))
	}
	id := uuid.New()
	d := notes.Document{
		ID:         id,
		Name:       name,
		Size:       req.Size,
		MimeType:   req.MimeType,
		ObjectKey:  documents.ObjectKey(id, name),
		UploadedBy: actor.ID,
		CreatedOn:  s.clock.Now(),
	}
	url, err := s.documents.PresignUpload(ctx, d.ObjectKey, s.presignTTL)
	if err != nil {
		return DocumentUpload{}, fmt.Errorf("presign upload: %w", err)
	}
	if err := s.store.SaveDocument(ctx, d); err != nil {
		return DocumentUpload{}, err
	}
	return DocumentUpload{Document: d, UploadURL: url}, nil
}

// DownloadDocument returns a presigned download URL for a document that
// still has its object.
func (s *Service) DownloadDocument(ctx context.Context, actor Actor, id uuid.UUID) (string, error) {
	if err := s.require(actor, rbac.ActionRead); err != nil {
		return "", err
	}
	d, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return "", err
	}
	if d.PurgedOn != nil {
		return "", errNotFound("document")
	}
	url, err := s.documents.PresignDownload(ctx, d.ObjectKey, d.Name, s.presignTTL)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return url, nil
}

// PurgeDocuments removes the stored objects of detached documents.
func (s *Service) PurgeDocuments(ctx context.Context) (int, error) {
	n, err := documents.Purge(ctx, s.store, s.documents, s.logger, s.clock.Now())
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.logger.Info("purged detached documents", "count", n)
	}
	return n, nil
}
