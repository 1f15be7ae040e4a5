package signaling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careconnect-backend/internal/domain"
	apperrors "careconnect-backend/pkg/errors"
	"careconnect-backend/pkg/metrics"
)

func newTestSignal(sessionID, from, to uuid.UUID, seq int) *domain.CallSignal {
	return &domain.CallSignal{
		ID:            domain.NewSignalID(),
		CallSessionID: sessionID,
		FromUserID:    from,
		ToUserID:      to,
		SignalType:    domain.SignalTypeICECandidate,
		SignalData:    []byte(fmt.Sprintf(`{"seq":%d}`, seq)),
	}
}

func newTestSession(caller, callee uuid.UUID) *domain.CallSession {
	return &domain.CallSession{
		ID:       uuid.New(),
		CallerID: caller,
		CalleeID: callee,
		CallType: domain.CallTypeVideo,
		Status:   domain.CallStatusRinging,
	}
}

func waitForSignal(t *testing.T, ch <-chan *domain.CallSignal) *domain.CallSignal {
	t.Helper()
	select {
	case signal := <-ch:
		return signal
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
		return nil
	}
}

func waitForSession(t *testing.T, ch <-chan *domain.CallSession) *domain.CallSession {
	t.Helper()
	select {
	case session := <-ch:
		return session
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
		return nil
	}
}

func TestMemorySubscribe_DeliversInOrder(t *testing.T) {
	// Setup
	feed := NewMemory()
	ctx := context.Background()
	sessionID := uuid.New()
	caller := uuid.New()
	callee := uuid.New()

	received := make(chan *domain.CallSignal, 16)
	sub, err := feed.Subscribe(ctx, sessionID, func(s *domain.CallSignal) {
		received <- s
	})
	require.NoError(t, err)
	defer sub.Close()

	// Execute
	var sent []*domain.CallSignal
	for i := 0; i < 5; i++ {
		signal := newTestSignal(sessionID, caller, callee, i)
		sent = append(sent, signal)
		require.NoError(t, feed.Send(ctx, signal))
	}

	// Assert: delivery preserves send order
	for i := 0; i < 5; i++ {
		got := waitForSignal(t, received)
		assert.Equal(t, sent[i].ID, got.ID)
		assert.Equal(t, sent[i].SignalData, got.SignalData)
	}
}

func TestMemorySubscribe_IgnoresOtherSessions(t *testing.T) {
	// Setup
	feed := NewMemory()
	ctx := context.Background()
	watched := uuid.New()
	other := uuid.New()
	caller := uuid.New()
	callee := uuid.New()

	received := make(chan *domain.CallSignal, 4)
	sub, err := feed.Subscribe(ctx, watched, func(s *domain.CallSignal) {
		received <- s
	})
	require.NoError(t, err)
	defer sub.Close()

	// Execute: one signal on a foreign session, then one on the watched one
	require.NoError(t, feed.Send(ctx, newTestSignal(other, caller, callee, 0)))
	wanted := newTestSignal(watched, caller, callee, 1)
	require.NoError(t, feed.Send(ctx, wanted))

	// Assert: only the watched session's signal arrives
	got := waitForSignal(t, received)
	assert.Equal(t, wanted.ID, got.ID)
	assert.Empty(t, received)
}

func TestMemoryFetchPending_FiltersByRecipient(t *testing.T) {
	// Setup
	feed := NewMemory()
	ctx := context.Background()
	sessionID := uuid.New()
	caller := uuid.New()
	callee := uuid.New()

	// Interleave signals in both directions
	toCallee := []*domain.CallSignal{
		newTestSignal(sessionID, caller, callee, 0),
		newTestSignal(sessionID, caller, callee, 1),
		newTestSignal(sessionID, caller, callee, 2),
	}
	toCaller := []*domain.CallSignal{
		newTestSignal(sessionID, callee, caller, 3),
		newTestSignal(sessionID, callee, caller, 4),
	}
	require.NoError(t, feed.Send(ctx, toCallee[0]))
	require.NoError(t, feed.Send(ctx, toCaller[0]))
	require.NoError(t, feed.Send(ctx, toCallee[1]))
	require.NoError(t, feed.Send(ctx, toCaller[1]))
	require.NoError(t, feed.Send(ctx, toCallee[2]))

	// Execute
	pendingCallee, err := feed.FetchPending(ctx, sessionID, callee)
	require.NoError(t, err)
	pendingCaller, err := feed.FetchPending(ctx, sessionID, caller)
	require.NoError(t, err)

	// Assert: each side sees only its own signals, in insertion order
	require.Len(t, pendingCallee, 3)
	for i, signal := range pendingCallee {
		assert.Equal(t, toCallee[i].ID, signal.ID)
	}
	require.Len(t, pendingCaller, 2)
	for i, signal := range pendingCaller {
		assert.Equal(t, toCaller[i].ID, signal.ID)
	}
}

func TestMemorySubscription_CloseStopsDelivery(t *testing.T) {
	// Setup
	feed := NewMemory()
	ctx := context.Background()
	sessionID := uuid.New()
	caller := uuid.New()
	callee := uuid.New()

	received := make(chan *domain.CallSignal, 4)
	sub, err := feed.Subscribe(ctx, sessionID, func(s *domain.CallSignal) {
		received <- s
	})
	require.NoError(t, err)

	// Execute
	require.NoError(t, sub.Close())
	require.NoError(t, feed.Send(ctx, newTestSignal(sessionID, caller, callee, 0)))

	// Assert: nothing arrives after Close returns
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, received)

	// Closing twice is fine
	assert.NoError(t, sub.Close())
}

func TestMemorySubscribeInserts_NotifiesMatchingCallee(t *testing.T) {
	// Setup
	feed := NewMemory()
	ctx := context.Background()
	caller := uuid.New()
	callee := uuid.New()
	bystander := uuid.New()

	rings := make(chan *domain.CallSession, 4)
	sub, err := feed.SubscribeInserts(ctx, callee, func(s *domain.CallSession) {
		rings <- s
	})
	require.NoError(t, err)
	defer sub.Close()

	bystanderRings := make(chan *domain.CallSession, 4)
	bystanderSub, err := feed.SubscribeInserts(ctx, bystander, func(s *domain.CallSession) {
		bystanderRings <- s
	})
	require.NoError(t, err)
	defer bystanderSub.Close()

	// Execute
	session := newTestSession(caller, callee)
	require.NoError(t, feed.Create(ctx, session))

	// Assert
	got := waitForSession(t, rings)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, domain.CallStatusRinging, got.Status)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, bystanderRings)
}

func TestMemoryUpdateStatus_StampsTimestamps(t *testing.T) {
	// Setup
	feed := NewMemory()
	ctx := context.Background()
	session := newTestSession(uuid.New(), uuid.New())
	require.NoError(t, feed.Create(ctx, session))

	answeredAt := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	endedAt := answeredAt.Add(7 * time.Minute)

	// Execute: ringing -> active -> ended
	require.NoError(t, feed.UpdateStatus(ctx, session.ID, domain.CallStatusActive, answeredAt))

	active, err := feed.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, active.StartedAt)
	assert.True(t, active.StartedAt.Equal(answeredAt))
	assert.Nil(t, active.EndedAt)

	require.NoError(t, feed.UpdateStatus(ctx, session.ID, domain.CallStatusEnded, endedAt))

	// Assert
	ended, err := feed.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, ended.Status)
	require.NotNil(t, ended.StartedAt)
	assert.True(t, ended.StartedAt.Equal(answeredAt))
	require.NotNil(t, ended.EndedAt)
	assert.True(t, ended.EndedAt.Equal(endedAt))
}

func TestMemoryUpdateStatus_DeclinedSkipsStartedAt(t *testing.T) {
	// Setup
	feed := NewMemory()
	ctx := context.Background()
	session := newTestSession(uuid.New(), uuid.New())
	require.NoError(t, feed.Create(ctx, session))

	declinedAt := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

	// Execute
	require.NoError(t, feed.UpdateStatus(ctx, session.ID, domain.CallStatusDeclined, declinedAt))

	// Assert: declined sessions were never active
	declined, err := feed.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusDeclined, declined.Status)
	assert.Nil(t, declined.StartedAt)
	require.NotNil(t, declined.EndedAt)
	assert.True(t, declined.EndedAt.Equal(declinedAt))
}

func TestMemoryUpdateStatus_RejectsIllegalTransitions(t *testing.T) {
	// Setup
	feed := NewMemory()
	ctx := context.Background()
	session := newTestSession(uuid.New(), uuid.New())
	require.NoError(t, feed.Create(ctx, session))
	require.NoError(t, feed.UpdateStatus(ctx, session.ID, domain.CallStatusEnded, time.Now().UTC()))

	// Execute + Assert: terminal sessions reject every further transition
	for _, next := range []domain.CallStatus{
		domain.CallStatusActive,
		domain.CallStatusDeclined,
		domain.CallStatusMissed,
		domain.CallStatusEnded,
	} {
		err := feed.UpdateStatus(ctx, session.ID, next, time.Now().UTC())
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallState), "ended -> %s should be rejected", next)
	}

	// The losing side of a decline/end race sees the same rejection
	session2 := newTestSession(uuid.New(), uuid.New())
	require.NoError(t, feed.Create(ctx, session2))
	require.NoError(t, feed.UpdateStatus(ctx, session2.ID, domain.CallStatusDeclined, time.Now().UTC()))
	err := feed.UpdateStatus(ctx, session2.ID, domain.CallStatusEnded, time.Now().UTC())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallState))
}

func TestMemoryUpdateStatus_FansOutToSubscribers(t *testing.T) {
	// Setup
	feed := NewMemory()
	ctx := context.Background()
	session := newTestSession(uuid.New(), uuid.New())
	other := newTestSession(uuid.New(), uuid.New())
	require.NoError(t, feed.Create(ctx, session))
	require.NoError(t, feed.Create(ctx, other))

	broad := make(chan *domain.CallSession, 4)
	broadSub, err := feed.SubscribeUpdates(ctx, func(s *domain.CallSession) {
		broad <- s
	})
	require.NoError(t, err)
	defer broadSub.Close()

	scoped := make(chan *domain.CallSession, 4)
	scopedSub, err := feed.SubscribeSessionUpdates(ctx, session.ID, func(s *domain.CallSession) {
		scoped <- s
	})
	require.NoError(t, err)
	defer scopedSub.Close()

	// Execute: update the other session first, then the watched one
	require.NoError(t, feed.UpdateStatus(ctx, other.ID, domain.CallStatusMissed, time.Now().UTC()))
	require.NoError(t, feed.UpdateStatus(ctx, session.ID, domain.CallStatusActive, time.Now().UTC()))

	// Assert: broad sees both updates in order, scoped only its session
	first := waitForSession(t, broad)
	assert.Equal(t, other.ID, first.ID)
	assert.Equal(t, domain.CallStatusMissed, first.Status)
	second := waitForSession(t, broad)
	assert.Equal(t, session.ID, second.ID)
	assert.Equal(t, domain.CallStatusActive, second.Status)

	got := waitForSession(t, scoped)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, domain.CallStatusActive, got.Status)
	assert.Empty(t, scoped)
}

func TestMemoryGetSession_ReturnsCopy(t *testing.T) {
	// Setup
	feed := NewMemory()
	ctx := context.Background()
	session := newTestSession(uuid.New(), uuid.New())
	require.NoError(t, feed.Create(ctx, session))

	// Execute: mutate the returned session
	got, err := feed.GetSession(ctx, session.ID)
	require.NoError(t, err)
	got.Status = domain.CallStatusEnded

	// Assert: stored state is untouched
	status, err := feed.GetStatus(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, status)
}

func TestMemoryGetStatus_NotFound(t *testing.T) {
	// Setup
	feed := NewMemory()
	ctx := context.Background()

	// Execute
	_, err := feed.GetStatus(ctx, uuid.New())

	// Assert
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallNotFound))

	_, err = feed.GetSession(ctx, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallNotFound))
}

func TestMemoryCreate_RejectsDuplicateID(t *testing.T) {
	// Setup
	feed := NewMemory()
	ctx := context.Background()
	session := newTestSession(uuid.New(), uuid.New())
	require.NoError(t, feed.Create(ctx, session))

	// Execute
	err := feed.Create(ctx, session)

	// Assert
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
}

func TestMemorySubscribe_TracksActiveGauge(t *testing.T) {
	// Setup
	feed := NewMemory()
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.SignalSubscriptionsActive)

	// Execute
	sub, err := feed.Subscribe(ctx, uuid.New(), func(*domain.CallSignal) {})
	require.NoError(t, err)

	// Assert
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SignalSubscriptionsActive))

	insertSub, err := feed.SubscribeInserts(ctx, uuid.New(), func(*domain.CallSession) {})
	require.NoError(t, err)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.SignalSubscriptionsActive))

	require.NoError(t, sub.Close())
	require.NoError(t, insertSub.Close())
	// Closing twice must not decrement twice.
	require.NoError(t, sub.Close())
	assert.Equal(t, before, testutil.ToFloat64(metrics.SignalSubscriptionsActive))
}
