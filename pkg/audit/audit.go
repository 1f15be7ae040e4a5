// Package audit records who did what to which clinical resource. Telehealth
// deployments need a reviewable trail of call, consultation, and attachment
// activity; events are kept in daily Redis lists with a retention window.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"careconnect-backend/pkg/constants"
	"careconnect-backend/pkg/database"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Call events
	EventCallPlaced   AuditEventType = "call_placed"
	EventCallAnswered AuditEventType = "call_answered"
	EventCallDeclined AuditEventType = "call_declined"
	EventCallMissed   AuditEventType = "call_missed"
	EventCallEnded    AuditEventType = "call_ended"

	// Consultation events
	EventConsultRequested AuditEventType = "consult_requested"
	EventConsultAssigned  AuditEventType = "consult_assigned"
	EventConsultClosed    AuditEventType = "consult_closed"

	// Messaging events
	EventMessageSent      AuditEventType = "message_sent"
	EventAttachmentUpload AuditEventType = "attachment_upload"
	EventAttachmentDelete AuditEventType = "attachment_delete"

	// Key management events
	EventKeyRegistered AuditEventType = "key_registered"
	EventKeyRotated    AuditEventType = "key_rotated"
)

// AuditEvent represents an audit log entry
type AuditEvent struct {
	EventID   uuid.UUID      `json:"event_id"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
	EventType AuditEventType `json:"event_type"`
	Resource  string         `json:"resource,omitempty"`
	Action    string         `json:"action,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	Success   bool           `json:"success"`
	Details   string         `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditLogger handles audit logging
type AuditLogger struct {
	redis *database.RedisClient
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(redis *database.RedisClient) *AuditLogger {
	return &AuditLogger{redis: redis}
}

func dailyKey(t time.Time) string {
	return fmt.Sprintf("audit:events:%s", t.Format("2006-01-02"))
}

// Log logs an audit event
func (al *AuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	event.Timestamp = time.Now().UTC()
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	key := dailyKey(event.Timestamp)
	if err := al.redis.SafeLPush(ctx, key, string(eventJSON)).Err(); err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}

	if err := al.redis.SafeExpire(ctx, key, constants.AuditLogRetention).Err(); err != nil {
		return fmt.Errorf("failed to set audit log expiry: %w", err)
	}

	return nil
}

// LogCallPlaced logs that a user started a call.
func (al *AuditLogger) LogCallPlaced(ctx context.Context, userID, sessionID uuid.UUID, ipAddress string) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventCallPlaced,
		Resource:  sessionID.String(),
		Action:    "place",
		IPAddress: ipAddress,
		Success:   true,
	})
}

// LogCallOutcome logs the terminal status of a call session.
func (al *AuditLogger) LogCallOutcome(ctx context.Context, userID, sessionID uuid.UUID, status string, duration time.Duration) error {
	eventType := EventCallEnded
	switch status {
	case "declined":
		eventType = EventCallDeclined
	case "missed":
		eventType = EventCallMissed
	}

	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: eventType,
		Resource:  sessionID.String(),
		Action:    status,
		Success:   true,
		Details:   fmt.Sprintf("duration: %d seconds", int64(duration.Seconds())),
	})
}

// LogCallAnswered logs that the callee answered a call.
func (al *AuditLogger) LogCallAnswered(ctx context.Context, userID, sessionID uuid.UUID) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventCallAnswered,
		Resource:  sessionID.String(),
		Action:    "answer",
		Success:   true,
	})
}

// LogConsultRequested logs a new consultation request.
func (al *AuditLogger) LogConsultRequested(ctx context.Context, patientID, consultationID uuid.UUID, ipAddress string) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &patientID,
		EventType: EventConsultRequested,
		Resource:  consultationID.String(),
		Action:    "request",
		IPAddress: ipAddress,
		Success:   true,
	})
}

// LogConsultAssigned logs a doctor taking a consultation.
func (al *AuditLogger) LogConsultAssigned(ctx context.Context, doctorID, consultationID uuid.UUID) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &doctorID,
		EventType: EventConsultAssigned,
		Resource:  consultationID.String(),
		Action:    "assign",
		Success:   true,
	})
}

// LogConsultClosed logs a consultation being closed.
func (al *AuditLogger) LogConsultClosed(ctx context.Context, doctorID, consultationID uuid.UUID, outcome string) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &doctorID,
		EventType: EventConsultClosed,
		Resource:  consultationID.String(),
		Action:    "close",
		Success:   true,
		Details:   outcome,
	})
}

// LogAttachmentUpload logs an attachment upload.
func (al *AuditLogger) LogAttachmentUpload(ctx context.Context, userID, attachmentID uuid.UUID, fileName string, fileSize int64) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventAttachmentUpload,
		Resource:  attachmentID.String(),
		Action:    "upload",
		Success:   true,
		Details:   fmt.Sprintf("filename: %s, size: %d bytes", fileName, fileSize),
	})
}

// LogAttachmentDelete logs an attachment deletion.
func (al *AuditLogger) LogAttachmentDelete(ctx context.Context, userID, attachmentID uuid.UUID) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventAttachmentDelete,
		Resource:  attachmentID.String(),
		Action:    "delete",
		Success:   true,
	})
}

// LogKeyRegistered logs a device key registration.
func (al *AuditLogger) LogKeyRegistered(ctx context.Context, userID uuid.UUID, keyType string, ipAddress string) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventKeyRegistered,
		Action:    "register",
		IPAddress: ipAddress,
		Success:   true,
		Details:   keyType,
	})
}

// LogKeyRotated logs a device key rotation.
func (al *AuditLogger) LogKeyRotated(ctx context.Context, userID uuid.UUID, keyType string, ipAddress string) error {
	return al.Log(ctx, &AuditEvent{
		UserID:    &userID,
		EventType: EventKeyRotated,
		Action:    "rotate",
		IPAddress: ipAddress,
		Success:   true,
		Details:   keyType,
	})
}

// GetEvents retrieves recent audit events for a user, newest day first.
func (al *AuditLogger) GetEvents(ctx context.Context, userID uuid.UUID, limit int) ([]*AuditEvent, error) {
	now := time.Now().UTC()

	var events []*AuditEvent
	for i := 0; i < 90 && len(events) < limit; i++ {
		key := dailyKey(now.AddDate(0, 0, -i))
		members, err := al.redis.SafeLRange(ctx, key, 0, int64(limit)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get audit events: %w", err)
		}

		for _, member := range members {
			var event AuditEvent
			if err := json.Unmarshal([]byte(member), &event); err != nil {
				continue
			}
			if event.UserID != nil && *event.UserID == userID {
				events = append(events, &event)
				if len(events) == limit {
					break
				}
			}
		}
	}

	return events, nil
}
