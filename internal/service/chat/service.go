// Package chat implements consultation messaging: Cassandra persistence
// with time-bucketed partitions, Redis Pub/Sub fan-out for live delivery,
// and doctor presence updates.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"careconnect-backend/internal/domain"
	"careconnect-backend/pkg/constants"
	apperrors "careconnect-backend/pkg/errors"
	"careconnect-backend/pkg/logger"
	"careconnect-backend/pkg/metrics"
	"careconnect-backend/pkg/sanitize"
)

// MessageStore persists chat messages.
type MessageStore interface {
	Save(ctx context.Context, message *domain.Message) error
	GetByConversation(ctx context.Context, conversationID uuid.UUID, bucket, limit int, pageState []byte) ([]*domain.Message, []byte, error)
	GetRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*domain.Message, error)
	Delete(ctx context.Context, conversationID uuid.UUID, bucket int, messageID uuid.UUID) error
}

// ConversationStore guards conversation access and tracks activity.
type ConversationStore interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	TouchLastMessage(ctx context.Context, conversationID uuid.UUID, sentAt time.Time) error
}

// Directory resolves user display info for message envelopes.
type Directory interface {
	GetDisplayInfo(ctx context.Context, userID uuid.UUID) (*domain.DisplayInfo, error)
}

// Notifier delivers push notifications to offline recipients.
type Notifier interface {
	SendMessageNotification(ctx context.Context, conversationID uuid.UUID, senderName string, recipientID uuid.UUID) error
}

// Broadcaster publishes live-feed payloads. Satisfied by
// *database.RedisClient.
type Broadcaster interface {
	SafePublish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// PresenceUpdater is the doctor availability surface exposed through chat.
type PresenceUpdater interface {
	SetOnline(ctx context.Context, userID uuid.UUID, specialty string) error
	SetOffline(ctx context.Context, userID uuid.UUID, specialty string) error
	Heartbeat(ctx context.Context, userID uuid.UUID) error
}

// Service handles chat business logic
type Service struct {
	messages      MessageStore
	conversations ConversationStore
	directory     Directory
	notifier      Notifier // optional
	presence      PresenceUpdater
	broadcaster   Broadcaster
}

// NewService creates a new chat service. notifier may be nil when push
// delivery is disabled.
func NewService(
	messages MessageStore,
	conversations ConversationStore,
	directory Directory,
	notifier Notifier,
	presence PresenceUpdater,
	broadcaster Broadcaster,
) *Service {
	return &Service{
		messages:      messages,
		conversations: conversations,
		directory:     directory,
		notifier:      notifier,
		presence:      presence,
		broadcaster:   broadcaster,
	}
}

// chatChannel is the Redis Pub/Sub channel carrying a conversation's live
// messages.
func chatChannel(conversationID uuid.UUID) string {
	return fmt.Sprintf("chat:%s", conversationID)
}

// SendMessageInput contains message data
type SendMessageInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Content        string
	IsEncrypted    bool
	MessageType    string
	Metadata       map[string]interface{}
}

// SendMessageOutput contains sent message info
type SendMessageOutput struct {
	Message *domain.MessageResponse
}

// SendMessage stores a message and publishes it to the conversation's live
// channel. Persisting is the source of truth; a failed publish or push is
// logged and the send still succeeds.
func (s *Service) SendMessage(ctx context.Context, input *SendMessageInput) (*SendMessageOutput, error) {
	if len(input.Content) == 0 || len(input.Content) > constants.MaxMessageLength {
		return nil, apperrors.ValidationError("message content length out of range")
	}

	conversation, err := s.conversations.GetByID(ctx, input.ConversationID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to load conversation", err)
	}
	if !conversation.HasParticipant(input.SenderID) {
		metrics.ChatMessageSendUnauthorizedTotal.Inc()
		return nil, apperrors.ForbiddenError("not a participant of this conversation")
	}

	content := input.Content
	if !input.IsEncrypted {
		// Ciphertext must pass through untouched; only plaintext is cleaned.
		content = sanitize.SanitizeText(content)
	}

	now := time.Now().UTC()
	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: input.ConversationID,
		Bucket:         domain.CalculateBucket(now),
		SenderID:       input.SenderID,
		Content:        content,
		IsEncrypted:    input.IsEncrypted,
		MessageType:    input.MessageType,
		Metadata:       input.Metadata,
		SentAt:         now,
	}

	metrics.ChatMessageCreatedTotal.WithLabelValues(message.MessageType, strconv.FormatBool(message.IsEncrypted)).Inc()

	persistStart := time.Now()
	if err := s.messages.Save(ctx, message); err != nil {
		metrics.ChatMessagePersistedTotal.WithLabelValues("error").Inc()
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to save message", err)
	}
	metrics.ChatMessagePersistedTotal.WithLabelValues("success").Inc()
	metrics.ChatMessageDeliveryDuration.WithLabelValues("persist").Observe(time.Since(persistStart).Seconds())

	if err := s.conversations.TouchLastMessage(ctx, input.ConversationID, now); err != nil {
		logger.Warn("failed to update conversation last message time",
			zap.String("conversation_id", input.ConversationID.String()),
			zap.Error(err))
	}

	response := s.toResponse(ctx, message)
	s.publish(ctx, response)
	s.notifyRecipient(ctx, conversation, message, response.SenderName)

	return &SendMessageOutput{Message: response}, nil
}

// publish fans the message out over Redis Pub/Sub. Best effort.
func (s *Service) publish(ctx context.Context, message *domain.MessageResponse) {
	payload, err := json.Marshal(message)
	if err != nil {
		logger.Error("failed to marshal message for pub/sub",
			zap.String("message_id", message.MessageID.String()),
			zap.Error(err))
		return
	}

	publishStart := time.Now()
	if err := s.broadcaster.SafePublish(ctx, chatChannel(message.ConversationID), payload).Err(); err != nil {
		metrics.ChatMessagePublishedTotal.WithLabelValues("error").Inc()
		logger.Warn("failed to publish message to redis",
			zap.String("message_id", message.MessageID.String()),
			zap.Error(err))
		return
	}
	metrics.ChatMessagePublishedTotal.WithLabelValues("success").Inc()
	metrics.ChatMessageDeliveryDuration.WithLabelValues("publish").Observe(time.Since(publishStart).Seconds())
}

// notifyRecipient pushes a notification to the conversation's other
// participant. Best effort.
func (s *Service) notifyRecipient(ctx context.Context, conversation *domain.Conversation, message *domain.Message, senderName string) {
	if s.notifier == nil {
		return
	}

	recipientID := conversation.OtherParticipant(message.SenderID)
	if recipientID == uuid.Nil {
		return
	}

	notifyStart := time.Now()
	if err := s.notifier.SendMessageNotification(ctx, message.ConversationID, senderName, recipientID); err != nil {
		logger.Warn("failed to send message push notification",
			zap.String("conversation_id", message.ConversationID.String()),
			zap.String("recipient_id", recipientID.String()),
			zap.Error(err))
		return
	}
	metrics.ChatMessageDeliveryDuration.WithLabelValues("notify").Observe(time.Since(notifyStart).Seconds())
}

// GetMessagesInput contains query parameters
type GetMessagesInput struct {
	ConversationID uuid.UUID
	RequesterID    uuid.UUID
	Limit          int
	PageState      []byte
}

// GetMessagesOutput contains message list
type GetMessagesOutput struct {
	Messages      []*domain.MessageResponse
	NextPageState []byte
	HasMore       bool
}

// GetMessages retrieves conversation messages with pagination. The first
// page walks recent buckets; subsequent pages resume from the Cassandra
// page state within the current bucket.
func (s *Service) GetMessages(ctx context.Context, input *GetMessagesInput) (*GetMessagesOutput, error) {
	ok, err := s.conversations.IsParticipant(ctx, input.ConversationID, input.RequesterID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to check conversation membership", err)
	}
	if !ok {
		return nil, apperrors.ForbiddenError("not a participant of this conversation")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}

	var (
		messages      []*domain.Message
		nextPageState []byte
	)

	if len(input.PageState) > 0 {
		currentBucket := domain.CalculateBucket(time.Now())
		messages, nextPageState, err = s.messages.GetByConversation(ctx, input.ConversationID, currentBucket, limit, input.PageState)
	} else {
		messages, err = s.messages.GetRecent(ctx, input.ConversationID, limit)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to get messages", err)
	}

	responses := make([]*domain.MessageResponse, len(messages))
	for i, msg := range messages {
		responses[i] = s.toResponse(ctx, msg)
	}

	return &GetMessagesOutput{
		Messages:      responses,
		NextPageState: nextPageState,
		HasMore:       len(nextPageState) > 0,
	}, nil
}

// DeleteMessage removes a message for an erasure request. Only
// participants of the conversation may delete.
func (s *Service) DeleteMessage(ctx context.Context, conversationID uuid.UUID, bucket int, messageID, userID uuid.UUID) error {
	ok, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to check conversation membership", err)
	}
	if !ok {
		return apperrors.ForbiddenError("not a participant of this conversation")
	}

	if err := s.messages.Delete(ctx, conversationID, bucket, messageID); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to delete message", err)
	}

	return nil
}

// SetPresence marks a doctor as available or away for matching.
func (s *Service) SetPresence(ctx context.Context, userID uuid.UUID, specialty string, online bool) error {
	if online {
		return s.presence.SetOnline(ctx, userID, specialty)
	}
	return s.presence.SetOffline(ctx, userID, specialty)
}

// RefreshPresence extends a doctor's availability window.
func (s *Service) RefreshPresence(ctx context.Context, userID uuid.UUID) error {
	return s.presence.Heartbeat(ctx, userID)
}

func (s *Service) toResponse(ctx context.Context, msg *domain.Message) *domain.MessageResponse {
	response := &domain.MessageResponse{
		MessageID:      msg.MessageID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		IsEncrypted:    msg.IsEncrypted,
		MessageType:    msg.MessageType,
		Metadata:       msg.Metadata,
		SentAt:         msg.SentAt,
	}
	if info, err := s.directory.GetDisplayInfo(ctx, msg.SenderID); err == nil && info != nil {
		response.SenderName = info.DisplayName
	}
	return response
}
