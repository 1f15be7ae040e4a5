package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"careconnect-backend/internal/domain"
	apperrors "careconnect-backend/pkg/errors"
)

// AttachmentRepository handles attachment metadata in PostgreSQL. Object
// bytes live in MinIO; rows here track ownership, status, and the object
// key.
type AttachmentRepository struct {
	pool *pgxpool.Pool
}

// NewAttachmentRepository creates a new AttachmentRepository
func NewAttachmentRepository(pool *pgxpool.Pool) *AttachmentRepository {
	return &AttachmentRepository{pool: pool}
}

const attachmentColumns = `attachment_id, conversation_id, uploader_id, file_name, file_size, content_type, object_key, status, created_at, deleted_at`

func scanAttachment(row pgx.Row) (*domain.Attachment, error) {
	att := &domain.Attachment{}
	err := row.Scan(
		&att.AttachmentID,
		&att.ConversationID,
		&att.UploaderID,
		&att.FileName,
		&att.FileSize,
		&att.ContentType,
		&att.ObjectKey,
		&att.Status,
		&att.CreatedAt,
		&att.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return att, nil
}

// Create inserts a new attachment row in "uploading" state.
func (r *AttachmentRepository) Create(ctx context.Context, att *domain.Attachment) error {
	query := `
		INSERT INTO attachments (attachment_id, conversation_id, uploader_id, file_name, file_size, content_type, object_key, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query,
		att.AttachmentID,
		att.ConversationID,
		att.UploaderID,
		att.FileName,
		att.FileSize,
		att.ContentType,
		att.ObjectKey,
		att.Status,
	).Scan(&att.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}

	return nil
}

// GetByID retrieves an attachment by ID
func (r *AttachmentRepository) GetByID(ctx context.Context, attachmentID uuid.UUID) (*domain.Attachment, error) {
	query := fmt.Sprintf(`SELECT %s FROM attachments WHERE attachment_id = $1`, attachmentColumns)

	att, err := scanAttachment(r.pool.QueryRow(ctx, query, attachmentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.AttachmentNotFoundError()
		}
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}

	return att, nil
}

// UpdateStatus transitions an attachment's lifecycle state.
func (r *AttachmentRepository) UpdateStatus(ctx context.Context, attachmentID uuid.UUID, status string) error {
	query := `
		UPDATE attachments
		SET status = $2,
		    deleted_at = CASE WHEN $2 = 'deleted' THEN NOW() ELSE deleted_at END
		WHERE attachment_id = $1
	`

	result, err := r.pool.Exec(ctx, query, attachmentID, status)
	if err != nil {
		return fmt.Errorf("failed to update attachment status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.AttachmentNotFoundError()
	}

	return nil
}

// ListForConversation returns completed attachments in a conversation,
// newest first.
func (r *AttachmentRepository) ListForConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.Attachment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM attachments
		WHERE conversation_id = $1 AND status = 'completed'
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, attachmentColumns)

	rows, err := r.pool.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*domain.Attachment
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attachments: %w", err)
	}

	return attachments, nil
}

// StorageUsedByUser sums the bytes a user has in non-deleted attachments.
func (r *AttachmentRepository) StorageUsedByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		SELECT COALESCE(SUM(file_size), 0)
		FROM attachments
		WHERE uploader_id = $1 AND status != 'deleted'
	`

	var used int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&used); err != nil {
		return 0, fmt.Errorf("failed to sum storage usage: %w", err)
	}

	return used, nil
}
