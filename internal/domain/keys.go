package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdentityKey is a user's long-term Ed25519 identity key. Only the public
// half is stored; private keys never leave the client.
// Maps to the identity_keys table.
type IdentityKey struct {
	UserID           uuid.UUID `json:"user_id" db:"user_id"`
	PublicKeyEd25519 string    `json:"public_key_ed25519" db:"public_key_ed25519"` // Base64
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// CallKey is a user's medium-term X25519 key used to derive per-call
// secrets. Rotated client-side; the signature binds it to the identity key.
// Maps to the call_keys table.
type CallKey struct {
	KeyID     int       `json:"key_id" db:"key_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	PublicKey string    `json:"public_key" db:"public_key"` // Base64 X25519
	Signature string    `json:"signature" db:"signature"`   // By identity key
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// KeyBundle is the public key material a counterpart needs before starting
// an encrypted chat or call with the user.
type KeyBundle struct {
	UserID      uuid.UUID `json:"user_id"`
	IdentityKey string    `json:"identity_key"`
	CallKey     *CallKey  `json:"call_key,omitempty"`
}

// KeysUploadRequest carries the key material a client publishes after
// enrollment or rotation.
type KeysUploadRequest struct {
	IdentityKey string `json:"identity_key" binding:"required"`
	CallKey     struct {
		KeyID     int    `json:"key_id" binding:"required"`
		PublicKey string `json:"public_key" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	} `json:"call_key" binding:"required"`
}
