package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"careconnect-backend/internal/domain"
)

// CallRepository answers read-side queries over call sessions: history,
// busy checks and the ring-timeout sweep. Writes go through the signaling
// registry, which owns transition validation and fan-out.
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

const sessionColumns = `id, conversation_id, caller_id, callee_id, call_type, status, started_at, ended_at, created_at`

func scanSession(row pgx.Row) (*domain.CallSession, error) {
	session := &domain.CallSession{}
	err := row.Scan(
		&session.ID,
		&session.ConversationID,
		&session.CallerID,
		&session.CalleeID,
		&session.CallType,
		&session.Status,
		&session.StartedAt,
		&session.EndedAt,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListForUser retrieves a user's call history, newest first.
func (r *CallRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM call_sessions
		WHERE caller_id = $1 OR callee_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, sessionColumns)

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.CallSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call sessions: %w", err)
	}

	return sessions, nil
}

// CountForUser returns the total number of sessions a user participated in.
func (r *CallRepository) CountForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM call_sessions WHERE caller_id = $1 OR callee_id = $1`

	var count int
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count calls: %w", err)
	}

	return count, nil
}

// ActiveSessionForUser returns the user's current ringing or active
// session, or nil when the user is free. Used to reject a second placement
// while one call is in flight.
func (r *CallRepository) ActiveSessionForUser(ctx context.Context, userID uuid.UUID) (*domain.CallSession, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM call_sessions
		WHERE (caller_id = $1 OR callee_id = $1)
		  AND status IN ('ringing', 'active')
		ORDER BY created_at DESC
		LIMIT 1
	`, sessionColumns)

	session, err := scanSession(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active session: %w", err)
	}

	return session, nil
}

// ListStaleRinging returns sessions still ringing after the cutoff. The
// ring-timeout sweeper marks them missed.
func (r *CallRepository) ListStaleRinging(ctx context.Context, cutoff time.Time) ([]*domain.CallSession, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM call_sessions
		WHERE status = 'ringing' AND created_at < $1
	`, sessionColumns)

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale ringing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.CallSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stale sessions: %w", err)
	}

	return sessions, nil
}
