package domain

import (
	"time"

	"github.com/google/uuid"
)

// Attachment is metadata for a file shared in a conversation (lab reports,
// photos of symptoms). Content lives in MinIO; this row is the reference.
// Maps to the attachments table.
type Attachment struct {
	AttachmentID   uuid.UUID  `json:"attachment_id" db:"attachment_id"`
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	UploaderID     uuid.UUID  `json:"uploader_id" db:"uploader_id"`
	FileName       string     `json:"file_name" db:"file_name"`
	FileSize       int64      `json:"file_size" db:"file_size"` // Bytes
	ContentType    string     `json:"content_type" db:"content_type"`
	ObjectKey      string     `json:"-" db:"object_key"` // Internal, never exposed
	Status         string     `json:"status" db:"status"` // uploading, completed, deleted
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// AttachmentUploadRequest asks for a presigned upload URL.
type AttachmentUploadRequest struct {
	ConversationID uuid.UUID `json:"conversation_id" binding:"required"`
	FileName       string    `json:"file_name" binding:"required"`
	FileSize       int64     `json:"file_size" binding:"required,min=1"`
	ContentType    string    `json:"content_type" binding:"required"`
}

// AttachmentUploadResponse carries the presigned PUT URL.
type AttachmentUploadResponse struct {
	AttachmentID uuid.UUID `json:"attachment_id"`
	UploadURL    string    `json:"upload_url"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AttachmentDownloadResponse carries the presigned GET URL.
type AttachmentDownloadResponse struct {
	DownloadURL string    `json:"download_url"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}
