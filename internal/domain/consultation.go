package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConsultationStatus tracks a symptom intake from submission to close.
type ConsultationStatus string

const (
	ConsultationPending ConsultationStatus = "pending" // awaiting triage
	ConsultationTriaged ConsultationStatus = "triaged" // triage text ready, no doctor yet
	ConsultationMatched ConsultationStatus = "matched" // doctor assigned, conversation open
	ConsultationClosed  ConsultationStatus = "closed"
)

// Consultation is one patient request: free-text symptoms, the AI triage
// summary, and the doctor it was routed to.
// Maps to the consultations table.
type Consultation struct {
	ConsultationID uuid.UUID          `json:"consultation_id" db:"consultation_id"`
	PatientID      uuid.UUID          `json:"patient_id" db:"patient_id"`
	Symptoms       string             `json:"symptoms" db:"symptoms"`
	TriageText     *string            `json:"triage_text,omitempty" db:"triage_text"`
	Specialty      *string            `json:"specialty,omitempty" db:"specialty"` // suggested by triage
	DoctorID       *uuid.UUID         `json:"doctor_id,omitempty" db:"doctor_id"`
	ConversationID *uuid.UUID         `json:"conversation_id,omitempty" db:"conversation_id"`
	Status         ConsultationStatus `json:"status" db:"status"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at"`
}

// ConsultationCreate is the patient intake payload.
type ConsultationCreate struct {
	Symptoms string `json:"symptoms" binding:"required,min=10,max=4000"`
}

// ConsultationResponse is a consultation with the matched doctor resolved.
type ConsultationResponse struct {
	ConsultationID uuid.UUID          `json:"consultation_id"`
	Symptoms       string             `json:"symptoms"`
	TriageText     *string            `json:"triage_text,omitempty"`
	Doctor         *DisplayInfo       `json:"doctor,omitempty"`
	ConversationID *uuid.UUID         `json:"conversation_id,omitempty"`
	Status         ConsultationStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
}
