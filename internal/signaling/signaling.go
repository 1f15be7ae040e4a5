// Package signaling provides the persistence and fan-out layer for call
// negotiation. A Channel carries directed signals (offers, answers, ICE
// candidates) between the two participants of a call session; a Registry
// tracks the sessions themselves and their lifecycle transitions.
//
// Two implementations are provided: Store persists to PostgreSQL and fans
// out over Redis Pub/Sub for multi-instance deployments, Memory keeps
// everything in-process for single-node kiosks and tests.
package signaling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"careconnect-backend/internal/domain"
)

// Subscription is a handle to an active feed subscription. Close stops
// delivery; a callback already in flight may still finish after Close
// returns.
type Subscription interface {
	Close() error
}

// Channel carries call signals between the participants of a session.
//
// Delivery is at-least-once: the same signal may surface both from
// FetchPending and from a live Subscribe callback, so consumers must
// deduplicate by signal ID.
type Channel interface {
	// Send persists a signal and notifies live subscribers of its session.
	// Persisting is the source of truth; a failed fan-out is not an error
	// because FetchPending recovers the signal.
	Send(ctx context.Context, signal *domain.CallSignal) error

	// Subscribe registers onSignal for every signal appended to the
	// session's feed after the subscription is established. Signals from a
	// single sender are delivered in the order they were sent.
	Subscribe(ctx context.Context, sessionID uuid.UUID, onSignal func(*domain.CallSignal)) (Subscription, error)

	// FetchPending returns every stored signal addressed to toUserID in the
	// session, oldest first. Callers use it to catch up on signals sent
	// before their subscription existed.
	FetchPending(ctx context.Context, sessionID, toUserID uuid.UUID) ([]*domain.CallSignal, error)
}

// Registry tracks call sessions and their status transitions.
type Registry interface {
	// Create stores a new session, which should be in StatusRinging.
	Create(ctx context.Context, session *domain.CallSession) error

	// UpdateStatus transitions a session to status at the given time,
	// stamping StartedAt when the session becomes active and EndedAt when
	// it reaches a terminal status. Transitions not allowed by
	// domain.CallStatus.CanTransitionTo are rejected with a call state
	// error; the first writer wins under concurrency.
	UpdateStatus(ctx context.Context, sessionID uuid.UUID, status domain.CallStatus, at time.Time) error

	// GetSession returns the session as currently stored.
	GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error)

	// GetStatus returns only the current status of a session.
	GetStatus(ctx context.Context, sessionID uuid.UUID) (domain.CallStatus, error)

	// SubscribeInserts registers onInsert for every new session created
	// with calleeID as the callee. An idle device listens here to learn
	// about incoming calls.
	SubscribeInserts(ctx context.Context, calleeID uuid.UUID, onInsert func(*domain.CallSession)) (Subscription, error)

	// SubscribeUpdates registers onUpdate for status changes on all
	// sessions.
	SubscribeUpdates(ctx context.Context, onUpdate func(*domain.CallSession)) (Subscription, error)

	// SubscribeSessionUpdates registers onUpdate for status changes on a
	// single session.
	SubscribeSessionUpdates(ctx context.Context, sessionID uuid.UUID, onUpdate func(*domain.CallSession)) (Subscription, error)
}
