package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"careconnect-backend/internal/domain"
	apperrors "careconnect-backend/pkg/errors"
	"careconnect-backend/pkg/metrics"
)

// Memory implements Channel and Registry entirely in-process. It backs
// single-node deployments such as the care-station kiosk, and tests.
type Memory struct {
	mu       sync.Mutex
	signals  map[uuid.UUID][]*domain.CallSignal
	sessions map[uuid.UUID]*domain.CallSession

	signalSubs  map[*memorySubscription]signalTarget
	insertSubs  map[*memorySubscription]insertTarget
	updateSubs  map[*memorySubscription]func(*domain.CallSession)
	sessionSubs map[*memorySubscription]sessionTarget
}

type signalTarget struct {
	sessionID uuid.UUID
	onSignal  func(*domain.CallSignal)
}

type insertTarget struct {
	calleeID uuid.UUID
	onInsert func(*domain.CallSession)
}

type sessionTarget struct {
	sessionID uuid.UUID
	onUpdate  func(*domain.CallSession)
}

// NewMemory creates an empty in-process feed.
func NewMemory() *Memory {
	return &Memory{
		signals:     make(map[uuid.UUID][]*domain.CallSignal),
		sessions:    make(map[uuid.UUID]*domain.CallSession),
		signalSubs:  make(map[*memorySubscription]signalTarget),
		insertSubs:  make(map[*memorySubscription]insertTarget),
		updateSubs:  make(map[*memorySubscription]func(*domain.CallSession)),
		sessionSubs: make(map[*memorySubscription]sessionTarget),
	}
}

// Send appends the signal to its session feed and queues it for every live
// subscriber of that session.
func (m *Memory) Send(ctx context.Context, signal *domain.CallSignal) error {
	stored := *signal
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.signals[stored.CallSessionID] = append(m.signals[stored.CallSessionID], &stored)

	for sub, target := range m.signalSubs {
		if target.sessionID != stored.CallSessionID {
			continue
		}
		delivered := stored
		onSignal := target.onSignal
		sub.enqueue(func() { onSignal(&delivered) })
	}

	return nil
}

// Subscribe registers onSignal for new signals in the session. Each
// subscription has its own dispatch goroutine so a slow callback never
// blocks senders or other subscribers.
func (m *Memory) Subscribe(ctx context.Context, sessionID uuid.UUID, onSignal func(*domain.CallSignal)) (Subscription, error) {
	sub := m.newSubscription()

	m.mu.Lock()
	m.signalSubs[sub] = signalTarget{sessionID: sessionID, onSignal: onSignal}
	m.mu.Unlock()

	return sub, nil
}

// FetchPending returns the stored signals addressed to toUserID in the
// session, in insertion order.
func (m *Memory) FetchPending(ctx context.Context, sessionID, toUserID uuid.UUID) ([]*domain.CallSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []*domain.CallSignal
	for _, signal := range m.signals[sessionID] {
		if signal.ToUserID == toUserID {
			copied := *signal
			pending = append(pending, &copied)
		}
	}

	return pending, nil
}

// Create stores the session and queues it for insert subscribers watching
// its callee.
func (m *Memory) Create(ctx context.Context, session *domain.CallSession) error {
	stored := *session
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[stored.ID]; exists {
		return apperrors.ConflictError("call session already exists")
	}
	m.sessions[stored.ID] = &stored

	for sub, target := range m.insertSubs {
		if target.calleeID != stored.CalleeID {
			continue
		}
		delivered := stored
		onInsert := target.onInsert
		sub.enqueue(func() { onInsert(&delivered) })
	}

	return nil
}

// UpdateStatus transitions the session, stamping StartedAt or EndedAt as
// the new status requires, and queues the updated session for update
// subscribers. Illegal transitions are rejected without notifying anyone.
func (m *Memory) UpdateStatus(ctx context.Context, sessionID uuid.UUID, status domain.CallStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return apperrors.CallNotFoundError()
	}
	if !session.Status.CanTransitionTo(status) {
		return apperrors.CallStateError(fmt.Sprintf("cannot transition call from %s to %s", session.Status, status))
	}

	session.Status = status
	stamp := at
	switch {
	case status == domain.CallStatusActive:
		session.StartedAt = &stamp
	case status.Terminal():
		session.EndedAt = &stamp
	}

	m.notifyUpdateLocked(session)
	return nil
}

// notifyUpdateLocked queues a snapshot of the session for the broad and
// per-session update subscribers. Callers must hold m.mu.
func (m *Memory) notifyUpdateLocked(session *domain.CallSession) {
	for sub, onUpdate := range m.updateSubs {
		delivered := *session
		callback := onUpdate
		sub.enqueue(func() { callback(&delivered) })
	}
	for sub, target := range m.sessionSubs {
		if target.sessionID != session.ID {
			continue
		}
		delivered := *session
		onUpdate := target.onUpdate
		sub.enqueue(func() { onUpdate(&delivered) })
	}
}

// GetSession returns a copy of the stored session.
func (m *Memory) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, apperrors.CallNotFoundError()
	}
	copied := *session
	return &copied, nil
}

// GetStatus returns the current status of the session.
func (m *Memory) GetStatus(ctx context.Context, sessionID uuid.UUID) (domain.CallStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return "", apperrors.CallNotFoundError()
	}
	return session.Status, nil
}

// SubscribeInserts registers onInsert for sessions created with calleeID as
// the callee.
func (m *Memory) SubscribeInserts(ctx context.Context, calleeID uuid.UUID, onInsert func(*domain.CallSession)) (Subscription, error) {
	sub := m.newSubscription()

	m.mu.Lock()
	m.insertSubs[sub] = insertTarget{calleeID: calleeID, onInsert: onInsert}
	m.mu.Unlock()

	return sub, nil
}

// SubscribeUpdates registers onUpdate for status changes on all sessions.
func (m *Memory) SubscribeUpdates(ctx context.Context, onUpdate func(*domain.CallSession)) (Subscription, error) {
	sub := m.newSubscription()

	m.mu.Lock()
	m.updateSubs[sub] = onUpdate
	m.mu.Unlock()

	return sub, nil
}

// SubscribeSessionUpdates registers onUpdate for status changes on one
// session.
func (m *Memory) SubscribeSessionUpdates(ctx context.Context, sessionID uuid.UUID, onUpdate func(*domain.CallSession)) (Subscription, error) {
	sub := m.newSubscription()

	m.mu.Lock()
	m.sessionSubs[sub] = sessionTarget{sessionID: sessionID, onUpdate: onUpdate}
	m.mu.Unlock()

	return sub, nil
}

func (m *Memory) newSubscription() *memorySubscription {
	sub := &memorySubscription{
		remove: func(s *memorySubscription) {
			m.mu.Lock()
			delete(m.signalSubs, s)
			delete(m.insertSubs, s)
			delete(m.updateSubs, s)
			delete(m.sessionSubs, s)
			m.mu.Unlock()
		},
	}
	sub.cond = sync.NewCond(&sub.mu)
	go sub.run()
	metrics.SignalSubscriptionsActive.Inc()
	return sub
}

// memorySubscription delivers queued callbacks one at a time, in order, on
// a dedicated goroutine. Queued callbacks that have not run when Close is
// called are dropped.
type memorySubscription struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	remove func(*memorySubscription)
}

func (s *memorySubscription) enqueue(fn func()) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, fn)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *memorySubscription) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		next()
	}
}

// Close stops delivery and releases the dispatch goroutine. It is safe to
// call from inside a callback and safe to call more than once.
func (s *memorySubscription) Close() error {
	s.remove(s)

	s.mu.Lock()
	wasClosed := s.closed
	s.closed = true
	s.queue = nil
	s.cond.Signal()
	s.mu.Unlock()

	if !wasClosed {
		metrics.SignalSubscriptionsActive.Dec()
	}

	return nil
}
