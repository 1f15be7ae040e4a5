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

// ConsultationRepository handles consultation data in PostgreSQL
type ConsultationRepository struct {
	pool *pgxpool.Pool
}

// NewConsultationRepository creates a new ConsultationRepository
func NewConsultationRepository(pool *pgxpool.Pool) *ConsultationRepository {
	return &ConsultationRepository{pool: pool}
}

// Create inserts a new consultation in pending status
func (r *ConsultationRepository) Create(ctx context.Context, consultation *domain.Consultation) error {
	if consultation.ConsultationID == uuid.Nil {
		consultation.ConsultationID = uuid.New()
	}
	if consultation.Status == "" {
		consultation.Status = domain.ConsultationPending
	}

	query := `
		INSERT INTO consultations (consultation_id, patient_id, symptoms, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		consultation.ConsultationID,
		consultation.PatientID,
		consultation.Symptoms,
		consultation.Status,
	).Scan(&consultation.CreatedAt, &consultation.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create consultation: %w", err)
	}

	return nil
}

// GetByID retrieves a consultation by ID
func (r *ConsultationRepository) GetByID(ctx context.Context, consultationID uuid.UUID) (*domain.Consultation, error) {
	query := `
		SELECT consultation_id, patient_id, symptoms, triage_text, specialty,
		       doctor_id, conversation_id, status, created_at, updated_at
		FROM consultations
		WHERE consultation_id = $1
	`

	consultation := &domain.Consultation{}
	err := r.pool.QueryRow(ctx, query, consultationID).Scan(
		&consultation.ConsultationID,
		&consultation.PatientID,
		&consultation.Symptoms,
		&consultation.TriageText,
		&consultation.Specialty,
		&consultation.DoctorID,
		&consultation.ConversationID,
		&consultation.Status,
		&consultation.CreatedAt,
		&consultation.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFoundError("consultation")
		}
		return nil, fmt.Errorf("failed to get consultation: %w", err)
	}

	return consultation, nil
}

// ListForUser retrieves consultations where the user is the patient or the
// assigned doctor, newest first.
func (r *ConsultationRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Consultation, error) {
	query := `
		SELECT consultation_id, patient_id, symptoms, triage_text, specialty,
		       doctor_id, conversation_id, status, created_at, updated_at
		FROM consultations
		WHERE patient_id = $1 OR doctor_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list consultations: %w", err)
	}
	defer rows.Close()

	var consultations []*domain.Consultation
	for rows.Next() {
		consultation := &domain.Consultation{}
		err := rows.Scan(
			&consultation.ConsultationID,
			&consultation.PatientID,
			&consultation.Symptoms,
			&consultation.TriageText,
			&consultation.Specialty,
			&consultation.DoctorID,
			&consultation.ConversationID,
			&consultation.Status,
			&consultation.CreatedAt,
			&consultation.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consultation: %w", err)
		}
		consultations = append(consultations, consultation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consultations: %w", err)
	}

	return consultations, nil
}

// SetTriage records the triage output and moves the consultation to triaged.
// Only a pending consultation can be triaged, so a retried pipeline cannot
// overwrite a later state.
func (r *ConsultationRepository) SetTriage(ctx context.Context, consultationID uuid.UUID, triageText, specialty string) error {
	query := `
		UPDATE consultations
		SET triage_text = $2, specialty = $3, status = $4, updated_at = NOW()
		WHERE consultation_id = $1 AND status = $5
	`

	result, err := r.pool.Exec(ctx, query,
		consultationID,
		triageText,
		specialty,
		domain.ConsultationTriaged,
		domain.ConsultationPending,
	)
	if err != nil {
		return fmt.Errorf("failed to set triage: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, consultationID); err != nil {
			return err
		}
		return apperrors.ConflictError("consultation already triaged")
	}

	return nil
}

// AssignDoctorTx assigns a doctor and conversation to the consultation within
// a transaction, moving it to matched. The doctor_id guard makes the first
// matcher win when two run concurrently.
func (r *ConsultationRepository) AssignDoctorTx(ctx context.Context, tx *Transaction, consultationID, doctorID, conversationID uuid.UUID) error {
	query := `
		UPDATE consultations
		SET doctor_id = $2, conversation_id = $3, status = $4, updated_at = NOW()
		WHERE consultation_id = $1 AND doctor_id IS NULL AND status != $5
	`

	result, err := tx.tx.Exec(ctx, query,
		consultationID,
		doctorID,
		conversationID,
		domain.ConsultationMatched,
		domain.ConsultationClosed,
	)
	if err != nil {
		return fmt.Errorf("failed to assign doctor: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ConflictError("consultation already assigned or closed")
	}

	return nil
}

// LeastRecentlyMatched picks from candidates the doctor whose last
// assignment is oldest, never-matched doctors first. Ties break on the
// candidate order.
func (r *ConsultationRepository) LeastRecentlyMatched(ctx context.Context, candidates []uuid.UUID) (uuid.UUID, error) {
	if len(candidates) == 0 {
		return uuid.Nil, fmt.Errorf("no candidate doctors")
	}

	query := `
		SELECT c.doctor_id, MAX(c.updated_at) AS last_matched
		FROM consultations c
		WHERE c.doctor_id = ANY($1)
		GROUP BY c.doctor_id
	`

	rows, err := r.pool.Query(ctx, query, candidates)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to query match history: %w", err)
	}
	defer rows.Close()

	lastMatched := make(map[uuid.UUID]time.Time, len(candidates))
	for rows.Next() {
		var doctorID uuid.UUID
		var at time.Time
		if err := rows.Scan(&doctorID, &at); err != nil {
			return uuid.Nil, fmt.Errorf("failed to scan match history: %w", err)
		}
		lastMatched[doctorID] = at
	}
	if err := rows.Err(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to iterate match history: %w", err)
	}

	best := candidates[0]
	bestAt, bestSeen := lastMatched[best]
	for _, id := range candidates[1:] {
		at, seen := lastMatched[id]
		if !bestSeen {
			break // never-matched doctor already selected
		}
		if !seen || at.Before(bestAt) {
			best, bestAt, bestSeen = id, at, seen
		}
	}

	return best, nil
}

// Close moves a consultation to closed
func (r *ConsultationRepository) Close(ctx context.Context, consultationID uuid.UUID) error {
	query := `
		UPDATE consultations
		SET status = $2, updated_at = NOW()
		WHERE consultation_id = $1 AND status != $2
	`

	result, err := r.pool.Exec(ctx, query, consultationID, domain.ConsultationClosed)
	if err != nil {
		return fmt.Errorf("failed to close consultation: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, consultationID); err != nil {
			return err
		}
		return apperrors.ConflictError("consultation already closed")
	}

	return nil
}
