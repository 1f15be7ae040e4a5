package push

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryTokenRepo is an in-memory TokenRepository for tests.
type memoryTokenRepo struct {
	tokens map[uuid.UUID]*Token
}

func newMemoryTokenRepo() *memoryTokenRepo {
	return &memoryTokenRepo{tokens: make(map[uuid.UUID]*Token)}
}

func (r *memoryTokenRepo) Store(ctx context.Context, token *Token) error {
	r.tokens[token.ID] = token
	return nil
}

func (r *memoryTokenRepo) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error) {
	var out []*Token
	for _, t := range r.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memoryTokenRepo) GetByToken(ctx context.Context, token string) (*Token, error) {
	for _, t := range r.tokens {
		if t.Token == token {
			return t, nil
		}
	}
	return nil, fmt.Errorf("token not found")
}

func (r *memoryTokenRepo) Update(ctx context.Context, token *Token) error {
	r.tokens[token.ID] = token
	return nil
}

func (r *memoryTokenRepo) Delete(ctx context.Context, tokenID uuid.UUID) error {
	delete(r.tokens, tokenID)
	return nil
}

func (r *memoryTokenRepo) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	for id, t := range r.tokens {
		if t.UserID == userID {
			delete(r.tokens, id)
		}
	}
	return nil
}

func (r *memoryTokenRepo) MarkInactive(ctx context.Context, tokenID uuid.UUID) error {
	if t, ok := r.tokens[tokenID]; ok {
		t.Active = false
	}
	return nil
}

// failingProvider reports every token as invalid.
type failingProvider struct{}

func (p *failingProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	return &SendResult{
		FailureCount:  len(tokens),
		InvalidTokens: tokens,
	}, nil
}

func newTestToken(userID uuid.UUID, value string) *Token {
	now := time.Now().Unix()
	return &Token{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     value,
		Type:      TokenTypeFCM,
		Platform:  "android",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRegisterToken_New(t *testing.T) {
	// Setup
	repo := newMemoryTokenRepo()
	service := NewService(&MockProvider{}, repo)
	token := newTestToken(uuid.New(), "device-token-1")

	// Execute
	err := service.RegisterToken(context.Background(), token)

	// Assert
	require.NoError(t, err)
	stored, err := repo.GetByToken(context.Background(), "device-token-1")
	require.NoError(t, err)
	assert.Equal(t, token.UserID, stored.UserID)
	assert.True(t, stored.Active)
}

func TestRegisterToken_ReactivatesExisting(t *testing.T) {
	// Setup
	repo := newMemoryTokenRepo()
	service := NewService(&MockProvider{}, repo)
	userID := uuid.New()
	original := newTestToken(userID, "device-token-1")
	original.Active = false
	require.NoError(t, repo.Store(context.Background(), original))

	// Execute
	replacement := newTestToken(userID, "device-token-1")
	replacement.Platform = "ios"
	err := service.RegisterToken(context.Background(), replacement)

	// Assert
	require.NoError(t, err)
	stored, err := repo.GetByToken(context.Background(), "device-token-1")
	require.NoError(t, err)
	assert.Equal(t, original.ID, stored.ID, "existing token record should be reused")
	assert.True(t, stored.Active)
	assert.Equal(t, "ios", stored.Platform)
}

func TestSendIncomingCallNotification(t *testing.T) {
	// Setup
	repo := newMemoryTokenRepo()
	provider := &MockProvider{}
	service := NewService(provider, repo)
	calleeID := uuid.New()
	require.NoError(t, repo.Store(context.Background(), newTestToken(calleeID, "callee-token")))

	data := &CallNotificationData{
		SessionID:  uuid.New(),
		CallerID:   uuid.New(),
		CallerName: "Dr. Amara Osei",
		CallType:   "video",
		Timestamp:  time.Now().Unix(),
	}

	// Execute
	err := service.SendIncomingCallNotification(context.Background(), data, calleeID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, provider.NotificationsSent)
}

func TestSendIncomingCallNotification_NoTokens(t *testing.T) {
	// Setup
	repo := newMemoryTokenRepo()
	provider := &MockProvider{}
	service := NewService(provider, repo)

	data := &CallNotificationData{
		SessionID:  uuid.New(),
		CallerID:   uuid.New(),
		CallerName: "Dr. Amara Osei",
		CallType:   "video",
		Timestamp:  time.Now().Unix(),
	}

	// Execute
	err := service.SendIncomingCallNotification(context.Background(), data, uuid.New())

	// Assert
	require.NoError(t, err, "no registered devices is not an error")
	assert.Equal(t, 0, provider.NotificationsSent)
}

func TestSend_RetiresInvalidTokens(t *testing.T) {
	// Setup
	repo := newMemoryTokenRepo()
	service := NewService(&failingProvider{}, repo)
	calleeID := uuid.New()
	token := newTestToken(calleeID, "stale-token")
	require.NoError(t, repo.Store(context.Background(), token))

	// Execute
	err := service.SendMissedCallNotification(context.Background(), uuid.New(), uuid.New(), "Ben Alvarez", calleeID)

	// Assert
	require.NoError(t, err)
	assert.False(t, repo.tokens[token.ID].Active, "invalid token should be marked inactive")
}

func TestSendMessageNotification_OmitsContent(t *testing.T) {
	// Setup
	repo := newMemoryTokenRepo()
	var captured *Notification
	provider := &captureProvider{onSend: func(n *Notification) { captured = n }}
	service := NewService(provider, repo)
	recipientID := uuid.New()
	require.NoError(t, repo.Store(context.Background(), newTestToken(recipientID, "recipient-token")))

	// Execute
	err := service.SendMessageNotification(context.Background(), uuid.New(), "Dr. Amara Osei", recipientID)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, "New Message", captured.Title)
	assert.NotContains(t, captured.Body, "symptom", "payload must never carry message content")
	assert.Equal(t, "message", captured.Data["type"])
}

func TestUnregisterAllTokens(t *testing.T) {
	// Setup
	repo := newMemoryTokenRepo()
	service := NewService(&MockProvider{}, repo)
	userID := uuid.New()
	require.NoError(t, repo.Store(context.Background(), newTestToken(userID, "t1")))
	require.NoError(t, repo.Store(context.Background(), newTestToken(userID, "t2")))
	require.NoError(t, repo.Store(context.Background(), newTestToken(uuid.New(), "other")))

	// Execute
	err := service.UnregisterAllTokens(context.Background(), userID)

	// Assert
	require.NoError(t, err)
	remaining, err := repo.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Len(t, repo.tokens, 1, "other users keep their tokens")
}

// captureProvider records the last notification it was asked to send.
type captureProvider struct {
	onSend func(*Notification)
}

func (p *captureProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	p.onSend(notification)
	return &SendResult{SuccessCount: len(tokens)}, nil
}
