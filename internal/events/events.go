// Package events publishes platform events for downstream consumers such
// as billing, analytics and record-keeping integrations. Event delivery is
// best effort: the platform's own flows never depend on a consumer seeing
// an event.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"careconnect-backend/internal/domain"
	"careconnect-backend/pkg/env"
	"careconnect-backend/pkg/logger"
)

// Publisher defines the event publishing operations the services need.
type Publisher interface {
	// PublishCallEnded publishes a terminal call session. The envelope type
	// carries the outcome (call.ended, call.declined, call.missed).
	PublishCallEnded(ctx context.Context, session *domain.CallSession) error

	// PublishConsultAssigned publishes a consultation matched to a doctor.
	PublishConsultAssigned(ctx context.Context, consultation *domain.Consultation) error

	// PublishConsultClosed publishes a closed consultation.
	PublishConsultClosed(ctx context.Context, consultation *domain.Consultation) error

	// Close closes the publisher connection.
	Close() error
}

// EventEnvelope wraps every published event.
type EventEnvelope struct {
	Type          string      `json:"type"`
	Version       string      `json:"version"`
	OccurredAt    time.Time   `json:"occurredAt"`
	CorrelationID string      `json:"correlationId"`
	Payload       interface{} `json:"payload"`
}

const envelopeVersion = "1.0.0"

func newEnvelope(eventType string, payload interface{}) *EventEnvelope {
	return &EventEnvelope{
		Type:          eventType,
		Version:       envelopeVersion,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	}
}

// consultEvent is the consultation payload on the wire. Symptom text and
// triage output stay out of the event stream.
type consultEvent struct {
	ConsultationID uuid.UUID                 `json:"consultation_id"`
	PatientID      uuid.UUID                 `json:"patient_id"`
	DoctorID       *uuid.UUID                `json:"doctor_id,omitempty"`
	Specialty      *string                   `json:"specialty,omitempty"`
	Status         domain.ConsultationStatus `json:"status"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

func newConsultEvent(c *domain.Consultation) *consultEvent {
	return &consultEvent{
		ConsultationID: c.ConsultationID,
		PatientID:      c.PatientID,
		DoctorID:       c.DoctorID,
		Specialty:      c.Specialty,
		Status:         c.Status,
		UpdatedAt:      c.UpdatedAt,
	}
}

// noop is used when no broker is configured. The service runs fine without
// event streaming; consumers simply see nothing.
type noop struct{}

func (n *noop) PublishCallEnded(ctx context.Context, session *domain.CallSession) error { return nil }

func (n *noop) PublishConsultAssigned(ctx context.Context, consultation *domain.Consultation) error {
	return nil
}

func (n *noop) PublishConsultClosed(ctx context.Context, consultation *domain.Consultation) error {
	return nil
}

func (n *noop) Close() error { return nil }

// NewPublisherFromEnv creates a publisher from AMQP_URL. An empty URL or a
// failed connection falls back to the no-op publisher with a warning, never
// an error: eventing is not worth failing startup over.
func NewPublisherFromEnv() Publisher {
	url := env.GetString("RABBITMQ_URL", "")
	if url == "" {
		logger.Info("RABBITMQ_URL not set, event publishing disabled")
		return &noop{}
	}

	publisher, err := NewAMQPPublisher(url)
	if err != nil {
		logger.Warn("AMQP connect failed, event publishing disabled", zap.Error(err))
		return &noop{}
	}
	return publisher
}
