// Package crypto manages published key material for end-to-end encrypted
// chat and calls. The server only ever holds public halves; DeriveCallSecret
// is the client-side derivation both endpoints run locally.
package crypto

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"careconnect-backend/internal/domain"
	apperrors "careconnect-backend/pkg/errors"
)

// CallSecretSize is the length of the derived per-call key in bytes.
const CallSecretSize = 32

// KeyStore persists published key bundles.
type KeyStore interface {
	SaveKeyBundle(ctx context.Context, identity *domain.IdentityKey, callKey *domain.CallKey) error
	GetKeyBundle(ctx context.Context, userID uuid.UUID) (*domain.KeyBundle, error)
	DeleteUserKeys(ctx context.Context, userID uuid.UUID) error
}

// Service handles key publication and lookup
type Service struct {
	keys KeyStore
}

// NewService creates a new crypto service
func NewService(keys KeyStore) *Service {
	return &Service{keys: keys}
}

// PublishKeyBundle validates and stores a user's public key material. The
// call key signature is checked against the identity key so a tampered
// bundle is rejected before it can poison later derivations.
func (s *Service) PublishKeyBundle(ctx context.Context, userID uuid.UUID, req *domain.KeysUploadRequest) error {
	identityPub, err := base64.StdEncoding.DecodeString(req.IdentityKey)
	if err != nil || len(identityPub) != ed25519.PublicKeySize {
		return apperrors.ValidationError("identity_key must be a base64 Ed25519 public key")
	}

	callPub, err := base64.StdEncoding.DecodeString(req.CallKey.PublicKey)
	if err != nil || len(callPub) != curve25519.PointSize {
		return apperrors.ValidationError("call_key.public_key must be a base64 X25519 public key")
	}

	signature, err := base64.StdEncoding.DecodeString(req.CallKey.Signature)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return apperrors.ValidationError("call_key.signature must be a base64 Ed25519 signature")
	}

	if !ed25519.Verify(ed25519.PublicKey(identityPub), callPub, signature) {
		return apperrors.ValidationError("call_key.signature does not verify against identity_key")
	}

	identity := &domain.IdentityKey{
		UserID:           userID,
		PublicKeyEd25519: req.IdentityKey,
	}
	callKey := &domain.CallKey{
		KeyID:     req.CallKey.KeyID,
		UserID:    userID,
		PublicKey: req.CallKey.PublicKey,
		Signature: req.CallKey.Signature,
	}

	if err := s.keys.SaveKeyBundle(ctx, identity, callKey); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to save key bundle", err)
	}

	return nil
}

// FetchKeyBundle returns the public key material needed to start an
// encrypted session with the user.
func (s *Service) FetchKeyBundle(ctx context.Context, userID uuid.UUID) (*domain.KeyBundle, error) {
	return s.keys.GetKeyBundle(ctx, userID)
}

// DeleteKeys removes all of a user's published key material (account
// deletion).
func (s *Service) DeleteKeys(ctx context.Context, userID uuid.UUID) error {
	if err := s.keys.DeleteUserKeys(ctx, userID); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabase, "failed to delete user keys", err)
	}
	return nil
}

// DeriveCallSecret computes the shared per-call key from our X25519 private
// key and the peer's published call key: ECDH then HKDF-SHA256 with the
// session ID as binding info. Both endpoints derive the same secret; the
// server cannot, since it never sees a private key.
func DeriveCallSecret(ourPrivateKey []byte, peerPublicKeyB64 string, sessionID uuid.UUID) ([]byte, error) {
	if len(ourPrivateKey) != curve25519.ScalarSize {
		return nil, fmt.Errorf("private key must be %d bytes", curve25519.ScalarSize)
	}

	peerPub, err := base64.StdEncoding.DecodeString(peerPublicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode peer call key: %w", err)
	}

	shared, err := curve25519.X25519(ourPrivateKey, peerPub)
	if err != nil {
		return nil, fmt.Errorf("ecdh failed: %w", err)
	}

	info := append([]byte("careconnect-call-v1:"), sessionID[:]...)
	kdf := hkdf.New(sha256.New, shared, nil, info)

	secret := make([]byte, CallSecretSize)
	if _, err := io.ReadFull(kdf, secret); err != nil {
		return nil, fmt.Errorf("hkdf expand failed: %w", err)
	}
	return secret, nil
}
