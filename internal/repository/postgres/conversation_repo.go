package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"careconnect-backend/internal/domain"
	apperrors "careconnect-backend/pkg/errors"
)

// ConversationRepository handles conversation data in PostgreSQL. Every
// conversation is a patient/doctor pair; there is no separate participant
// table.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new ConversationRepository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Transaction wraps a pgx transaction so services can span repositories
// without importing pgx themselves.
type Transaction struct {
	tx pgx.Tx
}

// BeginTx starts a transaction. Consult matching uses it to write the
// consultation update and the new conversation atomically.
func (r *ConversationRepository) BeginTx(ctx context.Context) (*Transaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: tx}, nil
}

// Commit commits the transaction
func (t *Transaction) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback rolls back the transaction. Safe to call after Commit.
func (t *Transaction) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// Create inserts a new conversation
func (r *ConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	return r.create(ctx, r.pool, conv)
}

// CreateTx inserts a new conversation within an existing transaction
func (r *ConversationRepository) CreateTx(ctx context.Context, tx *Transaction, conv *domain.Conversation) error {
	return r.create(ctx, tx.tx, conv)
}

// querier is the subset of pgxpool.Pool and pgx.Tx the repository needs.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *ConversationRepository) create(ctx context.Context, q querier, conv *domain.Conversation) error {
	if conv.ConversationID == uuid.Nil {
		conv.ConversationID = uuid.New()
	}

	query := `
		INSERT INTO conversations (conversation_id, patient_id, doctor_id, consultation_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := q.QueryRow(ctx, query,
		conv.ConversationID,
		conv.PatientID,
		conv.DoctorID,
		conv.ConsultationID,
	).Scan(&conv.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	return nil
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, patient_id, doctor_id, consultation_id, created_at, last_message_at
		FROM conversations
		WHERE conversation_id = $1
	`

	conv := &domain.Conversation{}
	err := r.pool.QueryRow(ctx, query, conversationID).Scan(
		&conv.ConversationID,
		&conv.PatientID,
		&conv.DoctorID,
		&conv.ConsultationID,
		&conv.CreatedAt,
		&conv.LastMessageAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFoundError("conversation")
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conv, nil
}

// FindByParticipants returns the existing conversation between a patient and
// a doctor, or nil when they have never talked. Matching reuses it instead
// of opening a second thread for the same pair.
func (r *ConversationRepository) FindByParticipants(ctx context.Context, patientID, doctorID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, patient_id, doctor_id, consultation_id, created_at, last_message_at
		FROM conversations
		WHERE patient_id = $1 AND doctor_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	conv := &domain.Conversation{}
	err := r.pool.QueryRow(ctx, query, patientID, doctorID).Scan(
		&conv.ConversationID,
		&conv.PatientID,
		&conv.DoctorID,
		&conv.ConsultationID,
		&conv.CreatedAt,
		&conv.LastMessageAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}

	return conv, nil
}

// GetUserConversations retrieves conversations the user takes part in,
// most recently active first.
func (r *ConversationRepository) GetUserConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, error) {
	query := `
		SELECT conversation_id, patient_id, doctor_id, consultation_id, created_at, last_message_at
		FROM conversations
		WHERE patient_id = $1 OR doctor_id = $1
		ORDER BY COALESCE(last_message_at, created_at) DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conv := &domain.Conversation{}
		err := rows.Scan(
			&conv.ConversationID,
			&conv.PatientID,
			&conv.DoctorID,
			&conv.ConsultationID,
			&conv.CreatedAt,
			&conv.LastMessageAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return conversations, nil
}

// IsParticipant checks if a user belongs to a conversation
func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM conversations
			WHERE conversation_id = $1 AND (patient_id = $2 OR doctor_id = $2)
		)
	`

	var isParticipant bool
	err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(&isParticipant)
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}

	return isParticipant, nil
}

// TouchLastMessage advances last_message_at after a message persists. The
// guard keeps the column monotonic when writes land out of order.
func (r *ConversationRepository) TouchLastMessage(ctx context.Context, conversationID uuid.UUID, sentAt time.Time) error {
	query := `
		UPDATE conversations
		SET last_message_at = $2
		WHERE conversation_id = $1
		AND (last_message_at IS NULL OR last_message_at < $2)
	`

	_, err := r.pool.Exec(ctx, query, conversationID, sentAt)
	if err != nil {
		return fmt.Errorf("failed to update last message time: %w", err)
	}

	return nil
}

// Delete removes a conversation
func (r *ConversationRepository) Delete(ctx context.Context, conversationID uuid.UUID) error {
	query := `DELETE FROM conversations WHERE conversation_id = $1`

	result, err := r.pool.Exec(ctx, query, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NotFoundError("conversation")
	}

	return nil
}
