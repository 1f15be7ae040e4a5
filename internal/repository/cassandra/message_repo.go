package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"careconnect-backend/internal/domain"
	"careconnect-backend/pkg/metrics"
)

// MessageRepository handles chat message storage in Cassandra. Messages are
// partitioned by (conversation_id, bucket) so one long-running consultation
// never grows a single partition unbounded.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// Save inserts a new message into Cassandra
func (r *MessageRepository) Save(ctx context.Context, message *domain.Message) error {
	if message.Bucket == 0 {
		message.Bucket = domain.CalculateBucket(message.SentAt)
	}

	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	query := `
		INSERT INTO messages (
			conversation_id, bucket, message_id, sender_id, content,
			is_encrypted, message_type, metadata, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	start := time.Now()
	err := r.session.Query(query,
		message.ConversationID,
		message.Bucket,
		message.MessageID,
		message.SenderID,
		message.Content,
		message.IsEncrypted,
		message.MessageType,
		message.Metadata,
		message.SentAt,
	).WithContext(ctx).Exec()
	metrics.RecordCassandraQueryDuration("insert", "messages", time.Since(start).Seconds())

	if err != nil {
		metrics.RecordCassandraQueryError("insert", "messages", classifyCassandraError(err))
		return fmt.Errorf("failed to save message: %w", err)
	}

	metrics.RecordCassandraQuery("insert", "messages", "success")
	return nil
}

// GetByConversation retrieves messages for one bucket of a conversation,
// newest first, with cursor-based pagination via the Cassandra page state.
func (r *MessageRepository) GetByConversation(
	ctx context.Context,
	conversationID uuid.UUID,
	bucket int,
	limit int,
	pageState []byte,
) ([]*domain.Message, []byte, error) {
	query := `
		SELECT conversation_id, bucket, message_id, sender_id, content,
		       is_encrypted, message_type, metadata, sent_at
		FROM messages
		WHERE conversation_id = ? AND bucket = ?
		ORDER BY sent_at DESC
		LIMIT ?
	`

	start := time.Now()
	iter := r.session.Query(query, conversationID, bucket, limit).
		WithContext(ctx).
		PageState(pageState).
		Iter()

	var messages []*domain.Message

	for {
		message := &domain.Message{}
		if !iter.Scan(
			&message.ConversationID,
			&message.Bucket,
			&message.MessageID,
			&message.SenderID,
			&message.Content,
			&message.IsEncrypted,
			&message.MessageType,
			&message.Metadata,
			&message.SentAt,
		) {
			break
		}
		messages = append(messages, message)
	}

	nextPageState := iter.PageState()
	err := iter.Close()
	metrics.RecordCassandraQueryDuration("select", "messages", time.Since(start).Seconds())
	if err != nil {
		metrics.RecordCassandraQueryError("select", "messages", classifyCassandraError(err))
		return nil, nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	metrics.RecordCassandraQuery("select", "messages", "success")
	return messages, nextPageState, nil
}

// GetRecent walks buckets backwards from now until limit messages are
// collected or maxBuckets buckets were visited. Most conversations are
// answered from the current bucket alone.
func (r *MessageRepository) GetRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*domain.Message, error) {
	const maxBuckets = 6

	bucket := domain.CalculateBucket(time.Now())
	var all []*domain.Message

	for i := 0; i < maxBuckets && len(all) < limit && bucket >= 0; i++ {
		messages, _, err := r.GetByConversation(ctx, conversationID, bucket, limit-len(all), nil)
		if err != nil {
			return nil, err
		}
		all = append(all, messages...)
		bucket--
	}

	return all, nil
}

// GetByID retrieves a specific message
func (r *MessageRepository) GetByID(ctx context.Context, conversationID uuid.UUID, bucket int, messageID uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT conversation_id, bucket, message_id, sender_id, content,
		       is_encrypted, message_type, metadata, sent_at
		FROM messages
		WHERE conversation_id = ? AND bucket = ? AND message_id = ?
		LIMIT 1
	`

	message := &domain.Message{}
	err := r.session.Query(query, conversationID, bucket, messageID).WithContext(ctx).Scan(
		&message.ConversationID,
		&message.Bucket,
		&message.MessageID,
		&message.SenderID,
		&message.Content,
		&message.IsEncrypted,
		&message.MessageType,
		&message.Metadata,
		&message.SentAt,
	)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("message not found")
		}
		metrics.RecordCassandraQueryError("select", "messages", classifyCassandraError(err))
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

// Delete removes a message (GDPR erasure requests)
func (r *MessageRepository) Delete(ctx context.Context, conversationID uuid.UUID, bucket int, messageID uuid.UUID) error {
	query := `DELETE FROM messages WHERE conversation_id = ? AND bucket = ? AND message_id = ?`

	if err := r.session.Query(query, conversationID, bucket, messageID).WithContext(ctx).Exec(); err != nil {
		metrics.RecordCassandraQueryError("delete", "messages", classifyCassandraError(err))
		return fmt.Errorf("failed to delete message: %w", err)
	}

	return nil
}

// CalculateBucketsForRange generates the bucket list covering a time range.
func CalculateBucketsForRange(startTime, endTime time.Time) []int {
	var buckets []int

	current := startTime
	for !current.After(endTime) {
		buckets = append(buckets, domain.CalculateBucket(current))
		current = current.AddDate(0, 0, domain.MessageBucketDays)
	}

	if last := domain.CalculateBucket(endTime); len(buckets) == 0 || buckets[len(buckets)-1] != last {
		buckets = append(buckets, last)
	}

	return buckets
}

func classifyCassandraError(err error) string {
	switch err {
	case gocql.ErrTimeoutNoResponse, gocql.ErrConnectionClosed:
		return "timeout"
	case gocql.ErrNotFound:
		return "not_found"
	default:
		return "other"
	}
}
