package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"careconnect-backend/internal/domain"
	apperrors "careconnect-backend/pkg/errors"
)

// KeysRepository stores the public key material clients publish for
// end-to-end encrypted chat and call secret derivation.
type KeysRepository struct {
	pool *pgxpool.Pool
}

// NewKeysRepository creates a new KeysRepository
func NewKeysRepository(pool *pgxpool.Pool) *KeysRepository {
	return &KeysRepository{pool: pool}
}

// SaveKeyBundle stores an identity key and call key together. Uploads after
// rotation replace both in one transaction so a bundle is never half old.
func (r *KeysRepository) SaveKeyBundle(ctx context.Context, identity *domain.IdentityKey, callKey *domain.CallKey) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	identityQuery := `
		INSERT INTO identity_keys (user_id, public_key_ed25519)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET public_key_ed25519 = EXCLUDED.public_key_ed25519
	`

	_, err = tx.Exec(ctx, identityQuery, identity.UserID, identity.PublicKeyEd25519)
	if err != nil {
		return fmt.Errorf("failed to save identity key: %w", err)
	}

	callKeyQuery := `
		INSERT INTO call_keys (key_id, user_id, public_key, signature)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, key_id) DO UPDATE
		SET public_key = EXCLUDED.public_key, signature = EXCLUDED.signature
	`

	_, err = tx.Exec(ctx, callKeyQuery, callKey.KeyID, callKey.UserID, callKey.PublicKey, callKey.Signature)
	if err != nil {
		return fmt.Errorf("failed to save call key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetIdentityKey retrieves a user's identity key
func (r *KeysRepository) GetIdentityKey(ctx context.Context, userID uuid.UUID) (*domain.IdentityKey, error) {
	query := `SELECT user_id, public_key_ed25519, created_at FROM identity_keys WHERE user_id = $1`

	key := &domain.IdentityKey{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&key.UserID,
		&key.PublicKeyEd25519,
		&key.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.NotFoundError("identity key")
		}
		return nil, fmt.Errorf("failed to get identity key: %w", err)
	}

	return key, nil
}

// GetLatestCallKey retrieves the newest call key. key_id increases on every
// client-side rotation.
func (r *KeysRepository) GetLatestCallKey(ctx context.Context, userID uuid.UUID) (*domain.CallKey, error) {
	query := `
		SELECT key_id, user_id, public_key, signature, created_at
		FROM call_keys
		WHERE user_id = $1
		ORDER BY key_id DESC
		LIMIT 1
	`

	key := &domain.CallKey{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&key.KeyID,
		&key.UserID,
		&key.PublicKey,
		&key.Signature,
		&key.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call key: %w", err)
	}

	return key, nil
}

// GetKeyBundle retrieves the public material a counterpart needs before
// opening an encrypted chat or deriving a call secret.
func (r *KeysRepository) GetKeyBundle(ctx context.Context, userID uuid.UUID) (*domain.KeyBundle, error) {
	identityKey, err := r.GetIdentityKey(ctx, userID)
	if err != nil {
		return nil, err
	}

	// A missing call key is not an error; old clients may only have
	// published an identity key.
	callKey, err := r.GetLatestCallKey(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &domain.KeyBundle{
		UserID:      userID,
		IdentityKey: identityKey.PublicKeyEd25519,
		CallKey:     callKey,
	}, nil
}

// DeleteUserKeys removes all key material for a user
func (r *KeysRepository) DeleteUserKeys(ctx context.Context, userID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM call_keys WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete call keys: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM identity_keys WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete identity key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
