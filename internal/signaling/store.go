package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"careconnect-backend/internal/domain"
	"careconnect-backend/pkg/database"
	apperrors "careconnect-backend/pkg/errors"
	"careconnect-backend/pkg/logger"
	"careconnect-backend/pkg/metrics"
)

// Redis channels carrying feed events. Signals and per-session updates get
// a channel per session, rings a channel per callee, and call:sessions
// carries every registry event for dashboard-style consumers.
func signalChannel(sessionID uuid.UUID) string  { return fmt.Sprintf("call:signal:%s", sessionID) }
func ringChannel(calleeID uuid.UUID) string     { return fmt.Sprintf("call:ring:%s", calleeID) }
func sessionChannel(sessionID uuid.UUID) string { return fmt.Sprintf("call:session:%s", sessionID) }

const sessionsChannel = "call:sessions"

const (
	eventInsert = "insert"
	eventUpdate = "update"
)

// sessionEvent is the JSON envelope published for registry changes.
type sessionEvent struct {
	Event   string              `json:"event"`
	Session *domain.CallSession `json:"session"`
}

// Store implements Channel and Registry on PostgreSQL with Redis Pub/Sub
// fan-out, so every service instance sees signals and session changes
// regardless of which instance wrote them. Rows are the source of truth;
// Pub/Sub is only a wake-up and may drop events while Redis is degraded.
type Store struct {
	pool  *pgxpool.Pool
	redis *database.RedisClient
}

// NewStore creates a feed store on an existing connection pool and Redis
// client.
func NewStore(pool *pgxpool.Pool, redis *database.RedisClient) *Store {
	return &Store{pool: pool, redis: redis}
}

const schema = `
CREATE TABLE IF NOT EXISTS call_sessions (
    id              UUID PRIMARY KEY,
    conversation_id UUID,
    caller_id       UUID NOT NULL,
    callee_id       UUID NOT NULL,
    call_type       TEXT NOT NULL,
    status          TEXT NOT NULL,
    started_at      TIMESTAMPTZ,
    ended_at        TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_sessions_callee_created ON call_sessions (callee_id, created_at DESC);

CREATE TABLE IF NOT EXISTS call_signals (
    id              TEXT PRIMARY KEY,
    call_session_id UUID NOT NULL REFERENCES call_sessions (id),
    from_user_id    UUID NOT NULL,
    to_user_id      UUID NOT NULL,
    signal_type     TEXT NOT NULL,
    signal_data     JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_signals_session_to ON call_signals (call_session_id, to_user_id, created_at);
`

// InitSchema creates the call_sessions and call_signals tables if they do
// not exist yet.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize signaling schema: %w", err)
	}
	return nil
}

// Send persists the signal and publishes it to the session's signal
// channel. A failed publish is logged and swallowed: subscribers recover
// missed signals through FetchPending.
func (s *Store) Send(ctx context.Context, signal *domain.CallSignal) error {
	stored := *signal
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO call_signals (
			id, call_session_id, from_user_id, to_user_id, signal_type, signal_data, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		stored.ID,
		stored.CallSessionID,
		stored.FromUserID,
		stored.ToUserID,
		stored.SignalType,
		stored.SignalData,
		stored.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store signal: %w", err)
	}
	metrics.SignalAppendedTotal.WithLabelValues(string(stored.SignalType)).Inc()

	payload, err := json.Marshal(&stored)
	if err != nil {
		logger.Warn("Failed to marshal signal for publish",
			zap.String("signal_id", stored.ID),
			zap.Error(err))
		return nil
	}
	s.publish(ctx, signalChannel(stored.CallSessionID), payload)

	return nil
}

// Subscribe delivers every signal published for the session after the
// Redis subscription is confirmed.
func (s *Store) Subscribe(ctx context.Context, sessionID uuid.UUID, onSignal func(*domain.CallSignal)) (Subscription, error) {
	return s.subscribe(ctx, signalChannel(sessionID), func(payload []byte) {
		var signal domain.CallSignal
		if err := json.Unmarshal(payload, &signal); err != nil {
			logger.Warn("Dropping malformed signal from feed",
				zap.String("session_id", sessionID.String()),
				zap.Error(err))
			return
		}
		onSignal(&signal)
	})
}

// FetchPending returns the stored signals addressed to toUserID in the
// session, oldest first. The signal ID breaks creation-time ties because
// ULIDs sort in generation order.
func (s *Store) FetchPending(ctx context.Context, sessionID, toUserID uuid.UUID) ([]*domain.CallSignal, error) {
	query := `
		SELECT id, call_session_id, from_user_id, to_user_id, signal_type, signal_data, created_at
		FROM call_signals
		WHERE call_session_id = $1 AND to_user_id = $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, sessionID, toUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending signals: %w", err)
	}
	defer rows.Close()

	var pending []*domain.CallSignal
	for rows.Next() {
		signal := &domain.CallSignal{}
		err := rows.Scan(
			&signal.ID,
			&signal.CallSessionID,
			&signal.FromUserID,
			&signal.ToUserID,
			&signal.SignalType,
			&signal.SignalData,
			&signal.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		pending = append(pending, signal)
	}

	metrics.SignalFetchPendingBatchSize.Observe(float64(len(pending)))
	return pending, nil
}

// Create stores the session and publishes an insert event to the callee's
// ring channel.
func (s *Store) Create(ctx context.Context, session *domain.CallSession) error {
	stored := *session
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO call_sessions (
			id, conversation_id, caller_id, callee_id, call_type, status, started_at, ended_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		stored.ID,
		stored.ConversationID,
		stored.CallerID,
		stored.CalleeID,
		stored.CallType,
		stored.Status,
		stored.StartedAt,
		stored.EndedAt,
		stored.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call session: %w", err)
	}

	s.publishSession(ctx, eventInsert, &stored, ringChannel(stored.CalleeID), sessionsChannel)
	return nil
}

// UpdateStatus transitions the session in a single guarded UPDATE so that
// under concurrent writers the first one wins and the rest get a call
// state error. StartedAt is stamped on the move to active, EndedAt on the
// move to any terminal status.
func (s *Store) UpdateStatus(ctx context.Context, sessionID uuid.UUID, status domain.CallStatus, at time.Time) error {
	var from []string
	switch status {
	case domain.CallStatusActive, domain.CallStatusDeclined, domain.CallStatusMissed:
		from = []string{string(domain.CallStatusRinging)}
	case domain.CallStatusEnded:
		from = []string{string(domain.CallStatusRinging), string(domain.CallStatusActive)}
	default:
		return apperrors.CallStateError(fmt.Sprintf("cannot transition call to %s", status))
	}

	query := `
		UPDATE call_sessions
		SET status = $2,
		    started_at = CASE WHEN $2 = 'active' THEN $3 ELSE started_at END,
		    ended_at   = CASE WHEN $2 <> 'active' THEN $3 ELSE ended_at END
		WHERE id = $1 AND status = ANY($4)
		RETURNING id, conversation_id, caller_id, callee_id, call_type, status, started_at, ended_at, created_at
	`

	session := &domain.CallSession{}
	err := s.pool.QueryRow(ctx, query, sessionID, status, at, from).Scan(
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
		if err == pgx.ErrNoRows {
			current, getErr := s.GetStatus(ctx, sessionID)
			if getErr != nil {
				return getErr
			}
			return apperrors.CallStateError(fmt.Sprintf("cannot transition call from %s to %s", current, status))
		}
		return fmt.Errorf("failed to update call status: %w", err)
	}

	s.publishSession(ctx, eventUpdate, session, sessionChannel(session.ID), sessionsChannel)
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	query := `
		SELECT id, conversation_id, caller_id, callee_id, call_type, status, started_at, ended_at, created_at
		FROM call_sessions
		WHERE id = $1
	`

	session := &domain.CallSession{}
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
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
		if err == pgx.ErrNoRows {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}

	return session, nil
}

// GetStatus retrieves only the current status of a session.
func (s *Store) GetStatus(ctx context.Context, sessionID uuid.UUID) (domain.CallStatus, error) {
	query := `SELECT status FROM call_sessions WHERE id = $1`

	var status domain.CallStatus
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", apperrors.CallNotFoundError()
		}
		return "", fmt.Errorf("failed to get call status: %w", err)
	}

	return status, nil
}

// SubscribeInserts delivers sessions created with calleeID as the callee.
func (s *Store) SubscribeInserts(ctx context.Context, calleeID uuid.UUID, onInsert func(*domain.CallSession)) (Subscription, error) {
	return s.subscribeSessions(ctx, ringChannel(calleeID), eventInsert, onInsert)
}

// SubscribeUpdates delivers status changes for all sessions.
func (s *Store) SubscribeUpdates(ctx context.Context, onUpdate func(*domain.CallSession)) (Subscription, error) {
	return s.subscribeSessions(ctx, sessionsChannel, eventUpdate, onUpdate)
}

// SubscribeSessionUpdates delivers status changes for one session.
func (s *Store) SubscribeSessionUpdates(ctx context.Context, sessionID uuid.UUID, onUpdate func(*domain.CallSession)) (Subscription, error) {
	return s.subscribeSessions(ctx, sessionChannel(sessionID), eventUpdate, onUpdate)
}

// subscribeSessions subscribes to a registry channel and forwards sessions
// from envelopes matching the wanted event kind. The broad call:sessions
// channel carries inserts and updates, so the filter matters there.
func (s *Store) subscribeSessions(ctx context.Context, channel, event string, callback func(*domain.CallSession)) (Subscription, error) {
	return s.subscribe(ctx, channel, func(payload []byte) {
		var envelope sessionEvent
		if err := json.Unmarshal(payload, &envelope); err != nil {
			logger.Warn("Dropping malformed session event from feed",
				zap.String("channel", channel),
				zap.Error(err))
			return
		}
		if envelope.Event != event || envelope.Session == nil {
			return
		}
		callback(envelope.Session)
	})
}

// subscribe opens a Redis subscription and pumps its messages into handle
// on a dedicated goroutine. It returns only after Redis confirms the
// subscription, so no message published afterwards is missed.
func (s *Store) subscribe(ctx context.Context, channel string, handle func([]byte)) (Subscription, error) {
	pubsub := s.redis.SafeSubscribe(ctx, channel)
	if pubsub == nil {
		return nil, fmt.Errorf("failed to subscribe to %s: redis unavailable", channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			handle([]byte(msg.Payload))
		}
	}()

	metrics.SignalSubscriptionsActive.Inc()
	return &storeSubscription{pubsub: pubsub}, nil
}

func (s *Store) publishSession(ctx context.Context, event string, session *domain.CallSession, channels ...string) {
	payload, err := json.Marshal(&sessionEvent{Event: event, Session: session})
	if err != nil {
		logger.Warn("Failed to marshal session event for publish",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
		return
	}
	for _, channel := range channels {
		s.publish(ctx, channel, payload)
	}
}

func (s *Store) publish(ctx context.Context, channel string, payload []byte) {
	if err := s.redis.SafePublish(ctx, channel, payload).Err(); err != nil {
		metrics.SignalPublishFailureTotal.Inc()
		logger.Warn("Failed to publish feed event",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// storeSubscription closes over the Redis PubSub; closing it ends the pump
// goroutine. Close is safe to call more than once.
type storeSubscription struct {
	pubsub    *redis.PubSub
	closeOnce sync.Once
}

func (s *storeSubscription) Close() error {
	s.closeOnce.Do(func() {
		metrics.SignalSubscriptionsActive.Dec()
	})
	return s.pubsub.Close()
}
