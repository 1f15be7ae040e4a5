// Package storage manages conversation attachments: presigned MinIO
// transfers with Postgres metadata rows as the reference.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"careconnect-backend/internal/domain"
	"careconnect-backend/pkg/constants"
	apperrors "careconnect-backend/pkg/errors"
	"careconnect-backend/pkg/sanitize"
)

// AttachmentStore persists attachment metadata.
type AttachmentStore interface {
	Create(ctx context.Context, att *domain.Attachment) error
	GetByID(ctx context.Context, attachmentID uuid.UUID) (*domain.Attachment, error)
	UpdateStatus(ctx context.Context, attachmentID uuid.UUID, status string) error
	ListForConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.Attachment, error)
}

// MembershipChecker guards conversation access.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// Objects is the presigned object transfer surface. Satisfied by
// *ObjectStore.
type Objects interface {
	PresignedUpload(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedDownload(ctx context.Context, objectKey, fileName string, expiry time.Duration) (string, error)
	StatObject(ctx context.Context, objectKey string) (int64, error)
	Remove(ctx context.Context, objectKey string) error
}

// Allowed attachment content types. Medical documents and images only.
var allowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
	"text/plain":      true,
}

// Service handles attachment business logic
type Service struct {
	attachments AttachmentStore
	membership  MembershipChecker
	objects     Objects
}

// NewService creates a new storage service
func NewService(attachments AttachmentStore, membership MembershipChecker, objects Objects) *Service {
	return &Service{
		attachments: attachments,
		membership:  membership,
		objects:     objects,
	}
}

// RequestUpload validates the request and returns a presigned PUT URL. The
// attachment row is created in "uploading" state; CompleteUpload flips it
// once the client confirms the transfer.
func (s *Service) RequestUpload(ctx context.Context, uploaderID uuid.UUID, req *domain.AttachmentUploadRequest) (*domain.AttachmentUploadResponse, error) {
	if req.FileSize <= 0 || req.FileSize > constants.MaxAttachmentSize {
		return nil, apperrors.ValidationError(fmt.Sprintf("file size must be between 1 and %d bytes", constants.MaxAttachmentSize))
	}
	if !allowedContentTypes[req.ContentType] {
		return nil, apperrors.ValidationError("content type not allowed")
	}

	ok, err := s.membership.IsParticipant(ctx, req.ConversationID, uploaderID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to check conversation membership", err)
	}
	if !ok {
		return nil, apperrors.ForbiddenError("not a participant of this conversation")
	}

	attachmentID := uuid.New()
	objectKey := fmt.Sprintf("conversations/%s/%s", req.ConversationID, attachmentID)

	uploadURL, err := s.objects.PresignedUpload(ctx, objectKey, constants.PresignedURLExpiry)
	if err != nil {
		return nil, apperrors.StorageError(err)
	}

	att := &domain.Attachment{
		AttachmentID:   attachmentID,
		ConversationID: req.ConversationID,
		UploaderID:     uploaderID,
		FileName:       sanitize.SanitizeFilename(req.FileName),
		FileSize:       req.FileSize,
		ContentType:    req.ContentType,
		ObjectKey:      objectKey,
		Status:         "uploading",
	}
	if err := s.attachments.Create(ctx, att); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to save attachment metadata", err)
	}

	return &domain.AttachmentUploadResponse{
		AttachmentID: attachmentID,
		UploadURL:    uploadURL,
		ExpiresAt:    time.Now().Add(constants.PresignedURLExpiry),
	}, nil
}

// CompleteUpload verifies the object landed in MinIO and marks the
// attachment completed. Only the uploader may complete.
func (s *Service) CompleteUpload(ctx context.Context, attachmentID, userID uuid.UUID) error {
	att, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		return err
	}
	if att.UploaderID != userID {
		return apperrors.ForbiddenError("only the uploader may complete an upload")
	}
	if att.Status != "uploading" {
		return apperrors.ConflictError("attachment is not awaiting upload")
	}

	size, err := s.objects.StatObject(ctx, att.ObjectKey)
	if err != nil {
		return apperrors.StorageError(err)
	}
	if size != att.FileSize {
		return apperrors.ValidationError("uploaded object size does not match the declared size")
	}

	return s.attachments.UpdateStatus(ctx, attachmentID, "completed")
}

// GetDownloadURL returns a presigned GET URL. Any conversation participant
// may download a completed attachment.
func (s *Service) GetDownloadURL(ctx context.Context, attachmentID, userID uuid.UUID) (*domain.AttachmentDownloadResponse, error) {
	att, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		return nil, err
	}
	if att.Status != "completed" {
		return nil, apperrors.AttachmentNotFoundError()
	}

	ok, err := s.membership.IsParticipant(ctx, att.ConversationID, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to check conversation membership", err)
	}
	if !ok {
		return nil, apperrors.ForbiddenError("not a participant of this conversation")
	}

	downloadURL, err := s.objects.PresignedDownload(ctx, att.ObjectKey, att.FileName, constants.PresignedURLExpiry)
	if err != nil {
		return nil, apperrors.StorageError(err)
	}

	return &domain.AttachmentDownloadResponse{
		DownloadURL: downloadURL,
		FileName:    att.FileName,
		FileSize:    att.FileSize,
		ContentType: att.ContentType,
		ExpiresAt:   time.Now().Add(constants.PresignedURLExpiry),
	}, nil
}

// ListAttachments returns a conversation's completed attachments.
func (s *Service) ListAttachments(ctx context.Context, conversationID, userID uuid.UUID, limit, offset int) ([]*domain.Attachment, error) {
	ok, err := s.membership.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to check conversation membership", err)
	}
	if !ok {
		return nil, apperrors.ForbiddenError("not a participant of this conversation")
	}

	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	attachments, err := s.attachments.ListForConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to list attachments", err)
	}
	return attachments, nil
}

// DeleteAttachment removes the object and soft-deletes the row. Only the
// uploader may delete.
func (s *Service) DeleteAttachment(ctx context.Context, attachmentID, userID uuid.UUID) error {
	att, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		return err
	}
	if att.UploaderID != userID {
		return apperrors.ForbiddenError("only the uploader may delete an attachment")
	}

	if err := s.objects.Remove(ctx, att.ObjectKey); err != nil {
		return apperrors.StorageError(err)
	}

	return s.attachments.UpdateStatus(ctx, attachmentID, "deleted")
}
