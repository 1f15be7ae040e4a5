package signaling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careconnect-backend/internal/domain"
)

func TestStore_ChannelNames(t *testing.T) {
	sessionID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	calleeID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	assert.Equal(t, "call:signal:11111111-2222-3333-4444-555555555555", signalChannel(sessionID))
	assert.Equal(t, "call:session:11111111-2222-3333-4444-555555555555", sessionChannel(sessionID))
	assert.Equal(t, "call:ring:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", ringChannel(calleeID))
}

func TestStore_ChannelNamesDistinctPerSession(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	assert.NotEqual(t, signalChannel(a), signalChannel(b))
	assert.NotEqual(t, sessionChannel(a), sessionChannel(b))
	// The same id must never collide across channel kinds either.
	assert.NotEqual(t, signalChannel(a), sessionChannel(a))
}

func TestStore_SessionEventRoundTrip(t *testing.T) {
	// Setup
	now := time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)
	session := &domain.CallSession{
		ID:        uuid.New(),
		CallerID:  uuid.New(),
		CalleeID:  uuid.New(),
		CallType:  domain.CallTypeVideo,
		Status:    domain.CallStatusActive,
		CreatedAt: now,
		StartedAt: &now,
	}

	// Execute
	payload, err := json.Marshal(sessionEvent{Event: eventUpdate, Session: session})
	require.NoError(t, err)

	var decoded sessionEvent
	require.NoError(t, json.Unmarshal(payload, &decoded))

	// Assert
	assert.Equal(t, eventUpdate, decoded.Event)
	require.NotNil(t, decoded.Session)
	assert.Equal(t, session.ID, decoded.Session.ID)
	assert.Equal(t, domain.CallStatusActive, decoded.Session.Status)
	require.NotNil(t, decoded.Session.StartedAt)
	assert.True(t, decoded.Session.StartedAt.Equal(now))
	assert.Nil(t, decoded.Session.EndedAt)
}

func TestStore_SessionEventIgnoresUnknownKind(t *testing.T) {
	payload, err := json.Marshal(sessionEvent{Event: "purge", Session: newTestSession(uuid.New(), uuid.New())})
	require.NoError(t, err)

	var decoded sessionEvent
	require.NoError(t, json.Unmarshal(payload, &decoded))

	// subscribeSessions filters on the envelope kind before invoking any
	// callback; an unmatched kind must still parse cleanly.
	assert.NotEqual(t, eventInsert, decoded.Event)
	assert.NotEqual(t, eventUpdate, decoded.Event)
}
