package crypto

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"careconnect-backend/internal/domain"
	apperrors "careconnect-backend/pkg/errors"
)

type MockKeyStore struct {
	mock.Mock
}

func (m *MockKeyStore) SaveKeyBundle(ctx context.Context, identity *domain.IdentityKey, callKey *domain.CallKey) error {
	args := m.Called(ctx, identity, callKey)
	return args.Error(0)
}

func (m *MockKeyStore) GetKeyBundle(ctx context.Context, userID uuid.UUID) (*domain.KeyBundle, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KeyBundle), args.Error(1)
}

func (m *MockKeyStore) DeleteUserKeys(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// newSignedBundle builds a valid upload request: a fresh identity key pair
// and an X25519 call key signed by the identity key.
func newSignedBundle(t *testing.T) (*domain.KeysUploadRequest, []byte) {
	t.Helper()

	identityPub, identityPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	callPriv := make([]byte, curve25519.ScalarSize)
	_, err = rand.Read(callPriv)
	require.NoError(t, err)
	callPub, err := curve25519.X25519(callPriv, curve25519.Basepoint)
	require.NoError(t, err)

	req := &domain.KeysUploadRequest{
		IdentityKey: base64.StdEncoding.EncodeToString(identityPub),
	}
	req.CallKey.KeyID = 1
	req.CallKey.PublicKey = base64.StdEncoding.EncodeToString(callPub)
	req.CallKey.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(identityPriv, callPub))

	return req, callPriv
}

func TestPublishKeyBundle(t *testing.T) {
	mockStore := new(MockKeyStore)
	service := NewService(mockStore)

	userID := uuid.New()
	req, _ := newSignedBundle(t)
	ctx := context.Background()

	mockStore.On("SaveKeyBundle", ctx, mock.MatchedBy(func(identity *domain.IdentityKey) bool {
		return identity.UserID == userID && identity.PublicKeyEd25519 == req.IdentityKey
	}), mock.AnythingOfType("*domain.CallKey")).Return(nil)

	err := service.PublishKeyBundle(ctx, userID, req)

	assert.NoError(t, err)
	mockStore.AssertExpectations(t)
}

func TestPublishKeyBundle_BadSignature(t *testing.T) {
	mockStore := new(MockKeyStore)
	service := NewService(mockStore)

	req, _ := newSignedBundle(t)
	other, _ := newSignedBundle(t)
	// Signature from a different identity key must not verify.
	req.CallKey.Signature = other.CallKey.Signature

	err := service.PublishKeyBundle(context.Background(), uuid.New(), req)

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	mockStore.AssertNotCalled(t, "SaveKeyBundle", mock.Anything, mock.Anything, mock.Anything)
}

func TestPublishKeyBundle_MalformedKey(t *testing.T) {
	mockStore := new(MockKeyStore)
	service := NewService(mockStore)

	req, _ := newSignedBundle(t)
	req.IdentityKey = "not base64!!"

	err := service.PublishKeyBundle(context.Background(), uuid.New(), req)

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestDeriveCallSecret_BothSidesAgree(t *testing.T) {
	aliceBundle, alicePriv := newSignedBundle(t)
	bobBundle, bobPriv := newSignedBundle(t)
	sessionID := uuid.New()

	aliceSecret, err := DeriveCallSecret(alicePriv, bobBundle.CallKey.PublicKey, sessionID)
	require.NoError(t, err)
	bobSecret, err := DeriveCallSecret(bobPriv, aliceBundle.CallKey.PublicKey, sessionID)
	require.NoError(t, err)

	assert.Equal(t, aliceSecret, bobSecret)
	assert.Len(t, aliceSecret, CallSecretSize)
}

func TestDeriveCallSecret_BoundToSession(t *testing.T) {
	aliceBundle, _ := newSignedBundle(t)
	_, bobPriv := newSignedBundle(t)

	first, err := DeriveCallSecret(bobPriv, aliceBundle.CallKey.PublicKey, uuid.New())
	require.NoError(t, err)
	second, err := DeriveCallSecret(bobPriv, aliceBundle.CallKey.PublicKey, uuid.New())
	require.NoError(t, err)

	// A new call session must never reuse the previous call's key.
	assert.NotEqual(t, first, second)
}
