package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageBucketDays controls Cassandra partition sizing: messages are
// partitioned by (conversation_id, bucket) so one busy conversation never
// grows a single partition unbounded.
const MessageBucketDays = 10

// Message represents a chat message.
// Maps to the Cassandra messages table, partitioned by conversation and
// time bucket.
type Message struct {
	MessageID      uuid.UUID              `json:"message_id" cql:"message_id"`
	ConversationID uuid.UUID              `json:"conversation_id" cql:"conversation_id"`
	Bucket         int                    `json:"-" cql:"bucket"`
	SenderID       uuid.UUID              `json:"sender_id" cql:"sender_id"`
	Content        string                 `json:"content" cql:"content"` // Base64 ciphertext when encrypted
	IsEncrypted    bool                   `json:"is_encrypted" cql:"is_encrypted"`
	MessageType    string                 `json:"message_type" cql:"message_type"` // text, attachment, system
	Metadata       map[string]interface{} `json:"metadata,omitempty" cql:"metadata"`
	SentAt         time.Time              `json:"sent_at" cql:"sent_at"`
}

// CalculateBucket maps a timestamp to its partition bucket.
func CalculateBucket(t time.Time) int {
	return int(t.Unix() / (MessageBucketDays * 24 * 60 * 60))
}

// MessageCreate represents data needed to send a message.
type MessageCreate struct {
	ConversationID uuid.UUID              `json:"conversation_id" binding:"required"`
	Content        string                 `json:"content" binding:"required"`
	IsEncrypted    bool                   `json:"is_encrypted"`
	MessageType    string                 `json:"message_type" binding:"required,oneof=text attachment system"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// MessageResponse represents the message returned to clients.
type MessageResponse struct {
	MessageID      uuid.UUID              `json:"message_id"`
	ConversationID uuid.UUID              `json:"conversation_id"`
	SenderID       uuid.UUID              `json:"sender_id"`
	SenderName     string                 `json:"sender_name,omitempty"`
	Content        string                 `json:"content"`
	IsEncrypted    bool                   `json:"is_encrypted"`
	MessageType    string                 `json:"message_type"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	SentAt         time.Time              `json:"sent_at"`
}
