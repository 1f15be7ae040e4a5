package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// TestCallStatusTransitions verifies the full transition matrix: only the
// documented lifecycle edges are legal.
func TestCallStatusTransitions(t *testing.T) {
	all := []CallStatus{
		CallStatusRinging, CallStatusActive, CallStatusEnded,
		CallStatusDeclined, CallStatusMissed,
	}

	legal := map[CallStatus][]CallStatus{
		CallStatusRinging: {CallStatusActive, CallStatusDeclined, CallStatusMissed, CallStatusEnded},
		CallStatusActive:  {CallStatusEnded},
	}

	for _, from := range all {
		allowed := map[CallStatus]bool{}
		for _, next := range legal[from] {
			allowed[next] = true
		}
		for _, to := range all {
			got := from.CanTransitionTo(to)
			assert.Equal(t, allowed[to], got, "transition %s -> %s", from, to)
		}
	}
}

// TestCallStatusNeverReentersRinging checks that no status can transition
// back to ringing.
func TestCallStatusNeverReentersRinging(t *testing.T) {
	for _, from := range []CallStatus{
		CallStatusRinging, CallStatusActive, CallStatusEnded,
		CallStatusDeclined, CallStatusMissed,
	} {
		assert.False(t, from.CanTransitionTo(CallStatusRinging),
			"%s must not re-enter ringing", from)
	}
}

// TestCallStatusTerminal verifies terminal detection for every status.
func TestCallStatusTerminal(t *testing.T) {
	assert.False(t, CallStatusRinging.Terminal())
	assert.False(t, CallStatusActive.Terminal())
	assert.True(t, CallStatusEnded.Terminal())
	assert.True(t, CallStatusDeclined.Terminal())
	assert.True(t, CallStatusMissed.Terminal())
}

// TestCallSessionOtherParty covers participant resolution from both sides.
func TestCallSessionOtherParty(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	session := &CallSession{CallerID: caller, CalleeID: callee}

	other, ok := session.OtherParty(caller)
	assert.True(t, ok)
	assert.Equal(t, callee, other)

	other, ok = session.OtherParty(callee)
	assert.True(t, ok)
	assert.Equal(t, caller, other)

	_, ok = session.OtherParty(uuid.New())
	assert.False(t, ok)

	assert.True(t, session.HasParticipant(caller))
	assert.False(t, session.HasParticipant(uuid.New()))
}

// TestCallSignalEmptyPayload verifies the payloads that must be skipped by
// candidate handling.
func TestCallSignalEmptyPayload(t *testing.T) {
	empty := []json.RawMessage{nil, json.RawMessage(""), json.RawMessage("null"), json.RawMessage(`""`), json.RawMessage("{}")}
	for _, payload := range empty {
		s := &CallSignal{SignalData: payload}
		assert.True(t, s.EmptyPayload(), "payload %q should be empty", payload)
	}

	s := &CallSignal{SignalData: json.RawMessage(`{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host"}`)}
	assert.False(t, s.EmptyPayload())
}

// TestNewSignalID checks uniqueness and lexicographic time ordering of
// generated signal IDs.
func TestNewSignalID(t *testing.T) {
	a := NewSignalID()
	b := NewSignalID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 26)
	// ULIDs generated later never sort before earlier ones.
	assert.LessOrEqual(t, a, b)
}
