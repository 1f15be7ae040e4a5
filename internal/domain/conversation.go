package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is the chat context between one patient and one doctor,
// usually opened when a consultation is matched. Calls may link back to it
// through CallSession.ConversationID.
// Maps to the conversations table.
type Conversation struct {
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	PatientID      uuid.UUID  `json:"patient_id" db:"patient_id"`
	DoctorID       uuid.UUID  `json:"doctor_id" db:"doctor_id"`
	ConsultationID *uuid.UUID `json:"consultation_id,omitempty" db:"consultation_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return userID == c.PatientID || userID == c.DoctorID
}

// OtherParticipant returns the participant that is not userID, or
// uuid.Nil when userID is not a participant.
func (c *Conversation) OtherParticipant(userID uuid.UUID) uuid.UUID {
	switch userID {
	case c.PatientID:
		return c.DoctorID
	case c.DoctorID:
		return c.PatientID
	}
	return uuid.Nil
}

// ConversationResponse is the conversation with resolved participant
// identities, as returned to clients.
type ConversationResponse struct {
	ConversationID uuid.UUID    `json:"conversation_id"`
	Patient        *DisplayInfo `json:"patient"`
	Doctor         *DisplayInfo `json:"doctor"`
	ConsultationID *uuid.UUID   `json:"consultation_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	LastMessageAt  *time.Time   `json:"last_message_at,omitempty"`
}
