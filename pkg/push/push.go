package push

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"careconnect-backend/pkg/logger"
)

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	Priority    string            `json:"priority,omitempty"` // high, normal, low
	Sound       string            `json:"sound,omitempty"`
	Badge       *int              `json:"badge,omitempty"`
	Category    string            `json:"category,omitempty"`
	ClickAction string            `json:"click_action,omitempty"`
}

// CallNotificationData contains data for call-related notifications
type CallNotificationData struct {
	SessionID      uuid.UUID  `json:"session_id"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	CallerID       uuid.UUID  `json:"caller_id"`
	CallerName     string     `json:"caller_name"`
	CallType       string     `json:"call_type"`
	Timestamp      int64      `json:"timestamp"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"  // Firebase Cloud Messaging
	TokenTypeAPNs TokenType = "apns" // Apple Push Notification Service
	TokenTypeWeb  TokenType = "web"  // Web Push
)

// Token represents a push notification token for a user
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web, station
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository defines interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	GetByToken(ctx context.Context, token string) (*Token, error)
	Update(ctx context.Context, token *Token) error
	Delete(ctx context.Context, tokenID uuid.UUID) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
	MarkInactive(ctx context.Context, tokenID uuid.UUID) error
}

// Service handles push notification operations
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// RegisterToken registers a new push notification token for a user
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	// Re-registering an existing token reactivates it
	existing, err := s.repo.GetByToken(ctx, token.Token)
	if err == nil && existing != nil {
		existing.Active = true
		existing.UpdatedAt = token.UpdatedAt
		existing.DeviceID = token.DeviceID
		existing.Platform = token.Platform
		return s.repo.Update(ctx, existing)
	}

	return s.repo.Store(ctx, token)
}

// UnregisterToken removes a push notification token
func (s *Service) UnregisterToken(ctx context.Context, tokenID uuid.UUID) error {
	return s.repo.Delete(ctx, tokenID)
}

// UnregisterAllTokens removes all tokens for a user
func (s *Service) UnregisterAllTokens(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeleteByUserID(ctx, userID)
}

// GetTokenByValue looks up a token by its raw value
func (s *Service) GetTokenByValue(ctx context.Context, token string) (*Token, error) {
	return s.repo.GetByToken(ctx, token)
}

// SendIncomingCallNotification alerts the callee's devices about a ringing
// call. Stations that are on and subscribed see the ring through the feed;
// push reaches phones and tablets that are asleep.
func (s *Service) SendIncomingCallNotification(ctx context.Context, data *CallNotificationData, calleeID uuid.UUID) error {
	payload := map[string]string{
		"type":        "incoming_call",
		"session_id":  data.SessionID.String(),
		"caller_id":   data.CallerID.String(),
		"caller_name": data.CallerName,
		"call_type":   data.CallType,
		"timestamp":   fmt.Sprintf("%d", data.Timestamp),
	}
	if data.ConversationID != nil {
		payload["conversation_id"] = data.ConversationID.String()
	}

	notification := &Notification{
		Title:    "Incoming Call",
		Body:     fmt.Sprintf("%s is calling you", data.CallerName),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data:     payload,
	}

	return s.send(ctx, "incoming call", data.SessionID.String(), notification, calleeID)
}

// SendMissedCallNotification tells the callee about a call nobody answered.
func (s *Service) SendMissedCallNotification(ctx context.Context, sessionID, callerID uuid.UUID, callerName string, calleeID uuid.UUID) error {
	notification := &Notification{
		Title:    "Missed Call",
		Body:     fmt.Sprintf("You missed a call from %s", callerName),
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":        "missed_call",
			"session_id":  sessionID.String(),
			"caller_id":   callerID.String(),
			"caller_name": callerName,
		},
	}

	return s.send(ctx, "missed call", sessionID.String(), notification, calleeID)
}

// SendConsultReadyNotification tells the patient a doctor has picked up
// their consultation request.
func (s *Service) SendConsultReadyNotification(ctx context.Context, consultationID uuid.UUID, doctorName string, patientID uuid.UUID) error {
	notification := &Notification{
		Title:    "Consultation Ready",
		Body:     fmt.Sprintf("%s is ready for your consultation", doctorName),
		Priority: "high",
		Sound:    "default",
		Data: map[string]string{
			"type":            "consult_ready",
			"consultation_id": consultationID.String(),
			"doctor_name":  doctorName,
		},
	}

	return s.send(ctx, "consult ready", consultationID.String(), notification, patientID)
}

// SendMessageNotification alerts a user to a new chat message. Message
// content stays out of the payload; the notification only names the sender.
func (s *Service) SendMessageNotification(ctx context.Context, conversationID uuid.UUID, senderName string, recipientID uuid.UUID) error {
	notification := &Notification{
		Title:    "New Message",
		Body:     fmt.Sprintf("New message from %s", senderName),
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":            "message",
			"conversation_id": conversationID.String(),
			"sender_name":     senderName,
		},
	}

	return s.send(ctx, "message", conversationID.String(), notification, recipientID)
}

// send resolves the recipient's active tokens, dispatches the notification,
// and retires tokens the provider reports as invalid.
func (s *Service) send(ctx context.Context, kind, resource string, notification *Notification, userID uuid.UUID) error {
	tokens := s.collectActiveTokens(ctx, userID)
	if len(tokens) == 0 {
		logger.Info("No active push tokens for recipient",
			zap.String("kind", kind),
			zap.String("user_id", userID.String()))
		return nil
	}

	result, err := s.provider.Send(ctx, notification, tokens)
	if err != nil {
		logger.Error("Failed to send push notification",
			zap.String("kind", kind),
			zap.String("resource", resource),
			zap.Int("token_count", len(tokens)),
			zap.Error(err))
		return fmt.Errorf("failed to send %s notification: %w", kind, err)
	}

	logger.Info("Push notification sent",
		zap.String("kind", kind),
		zap.String("resource", resource),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("invalid_tokens", len(result.InvalidTokens)))

	if len(result.InvalidTokens) > 0 {
		s.handleInvalidTokens(ctx, result.InvalidTokens)
	}

	return nil
}

// collectActiveTokens gathers the active token strings for a user.
func (s *Service) collectActiveTokens(ctx context.Context, userID uuid.UUID) []string {
	tokens, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		logger.Warn("Failed to get push tokens for user",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil
	}

	var active []string
	for _, token := range tokens {
		if token.Active {
			active = append(active, token.Token)
		}
	}
	return active
}

// handleInvalidTokens marks invalid tokens as inactive
func (s *Service) handleInvalidTokens(ctx context.Context, invalidTokens []string) {
	for _, tokenStr := range invalidTokens {
		token, err := s.repo.GetByToken(ctx, tokenStr)
		if err == nil && token != nil {
			if err := s.repo.MarkInactive(ctx, token.ID); err != nil {
				logger.Warn("Failed to mark token as inactive",
					zap.String("token_id", token.ID.String()),
					zap.Error(err))
			}
		}
	}
}

// GetTokensByUserID retrieves all tokens for a user
func (s *Service) GetTokensByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// MockProvider is a mock implementation for development/testing
type MockProvider struct {
	// For testing purposes
	NotificationsSent int
}

// Send implements Provider interface
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.NotificationsSent++

	logger.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
		zap.Int("token_count", len(tokens)))

	return &SendResult{
		SuccessCount: len(tokens),
	}, nil
}
