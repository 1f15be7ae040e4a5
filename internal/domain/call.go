package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// CallType distinguishes voice-only calls from video calls.
type CallType string

const (
	CallTypeVideo CallType = "video"
	CallTypeVoice CallType = "voice"
)

// Valid reports whether the call type is one of the known values.
func (t CallType) Valid() bool {
	return t == CallTypeVideo || t == CallTypeVoice
}

// CallStatus is the lifecycle state of a call session.
type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusActive   CallStatus = "active"
	CallStatusEnded    CallStatus = "ended"
	CallStatusDeclined CallStatus = "declined"
	CallStatusMissed   CallStatus = "missed"
)

// Terminal reports whether the status is final. A session in a terminal
// status never changes again.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusDeclined, CallStatusMissed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// edge: ringing may become active, declined, missed or ended (failure before
// answer); active may only end. No status ever returns to ringing.
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	switch s {
	case CallStatusRinging:
		return next == CallStatusActive || next == CallStatusDeclined ||
			next == CallStatusMissed || next == CallStatusEnded
	case CallStatusActive:
		return next == CallStatusEnded
	}
	return false
}

// CallSession identifies one call attempt between two users.
// Maps to the call_sessions table.
type CallSession struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty" db:"conversation_id"`
	CallerID       uuid.UUID  `json:"caller_id" db:"caller_id"`
	CalleeID       uuid.UUID  `json:"callee_id" db:"callee_id"`
	CallType       CallType   `json:"call_type" db:"call_type"`
	Status         CallStatus `json:"status" db:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// OtherParty returns the participant that is not userID. The second return
// is false when userID is not a participant at all.
func (c *CallSession) OtherParty(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case c.CallerID:
		return c.CalleeID, true
	case c.CalleeID:
		return c.CallerID, true
	}
	return uuid.Nil, false
}

// HasParticipant reports whether userID is the caller or the callee.
func (c *CallSession) HasParticipant(userID uuid.UUID) bool {
	return userID == c.CallerID || userID == c.CalleeID
}

// SignalType is the kind of negotiation step a CallSignal carries.
type SignalType string

const (
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeICECandidate SignalType = "ice-candidate"
	SignalTypeHangup       SignalType = "hangup"
)

// Valid reports whether the signal type is one of the known values.
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeICECandidate, SignalTypeHangup:
		return true
	}
	return false
}

// CallSignal is one step of the offer/answer/ICE exchange. Signals are
// written exactly once and never mutated; receivers de-duplicate by ID
// because the live subscription and the pending-signal catch-up query may
// both deliver the same row.
// Maps to the call_signals table.
type CallSignal struct {
	// ID is a ULID: unique for de-duplication and lexicographically ordered
	// by creation time, which gives FetchPending a stable sort tiebreak.
	ID            string          `json:"id" db:"id"`
	CallSessionID uuid.UUID       `json:"call_session_id" db:"call_session_id"`
	FromUserID    uuid.UUID       `json:"from_user_id" db:"from_user_id"`
	ToUserID      uuid.UUID       `json:"to_user_id" db:"to_user_id"`
	SignalType    SignalType      `json:"signal_type" db:"signal_type"`
	SignalData    json.RawMessage `json:"signal_data,omitempty" db:"signal_data"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// EmptyPayload reports whether the signal carries no usable payload
// (hangups always do; an empty ice-candidate must be skipped, not applied).
func (s *CallSignal) EmptyPayload() bool {
	if len(s.SignalData) == 0 {
		return true
	}
	switch string(s.SignalData) {
	case "null", `""`, "{}":
		return true
	}
	return false
}

// NewSignalID generates a ULID for a CallSignal. IDs from one process are
// monotonic within the same millisecond, so per-sender creation order and
// lexicographic order agree.
func NewSignalID() string {
	return ulid.Make().String()
}
