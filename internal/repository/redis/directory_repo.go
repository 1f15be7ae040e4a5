package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"careconnect-backend/internal/domain"
	"careconnect-backend/pkg/cache"
	"careconnect-backend/pkg/database"
)

// directoryTTL bounds how long a stale display name can survive a profile
// update on another instance.
const directoryTTL = 10 * time.Minute

// localTTL keeps the process-local layer short so cross-instance profile
// updates surface within a heartbeat or two.
const localTTL = 30 * time.Second

// DisplayLoader loads a user's display info from the source of truth when
// the directory cache misses. Implemented by the Postgres user repository.
type DisplayLoader interface {
	GetDisplayInfo(ctx context.Context, userID uuid.UUID) (*domain.DisplayInfo, error)
}

// DirectoryRepository is a cache-aside directory of user display info in
// Redis. Call banners and conversation lists resolve names through it so a
// ringing call never waits on a Postgres round trip. Degraded Redis falls
// through to the loader.
type DirectoryRepository struct {
	client *database.RedisClient
	loader DisplayLoader
	local  *cache.MemoryCache
}

// NewDirectoryRepository creates a new DirectoryRepository
func NewDirectoryRepository(client *database.RedisClient, loader DisplayLoader) *DirectoryRepository {
	return &DirectoryRepository{
		client: client,
		loader: loader,
		local:  cache.NewMemoryCache(localTTL, 1024),
	}
}

func directoryKey(userID uuid.UUID) string {
	return fmt.Sprintf("directory:user:%s", userID)
}

// GetDisplayInfo returns the user's display info, from cache when possible.
// Lookup order: process-local layer, Redis, then the loader.
func (r *DirectoryRepository) GetDisplayInfo(ctx context.Context, userID uuid.UUID) (*domain.DisplayInfo, error) {
	if cached, ok := r.local.Get(directoryKey(userID)); ok {
		if info, ok := cached.(*domain.DisplayInfo); ok {
			return info, nil
		}
	}

	data, err := r.client.SafeGet(ctx, directoryKey(userID)).Bytes()
	if err == nil {
		var info domain.DisplayInfo
		if err := json.Unmarshal(data, &info); err == nil {
			r.local.Set(directoryKey(userID), &info, 0)
			return &info, nil
		}
		// Unreadable entry; drop it and reload.
		r.client.SafeDel(ctx, directoryKey(userID))
	} else if err != redis.Nil && r.client.IsDegraded() {
		// Degraded cache is not an error; the loader still answers.
	}

	info, err := r.loader.GetDisplayInfo(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load display info: %w", err)
	}

	if payload, err := json.Marshal(info); err == nil {
		r.client.SafeSet(ctx, directoryKey(userID), payload, directoryTTL)
	}
	r.local.Set(directoryKey(userID), info, 0)

	return info, nil
}

// DisplayName resolves a user id to a display name. Satisfies the call
// controller's DirectoryLookup.
func (r *DirectoryRepository) DisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	info, err := r.GetDisplayInfo(ctx, userID)
	if err != nil {
		return "", err
	}
	return info.DisplayName, nil
}

// Invalidate drops a user's cached entry after a profile update.
func (r *DirectoryRepository) Invalidate(ctx context.Context, userID uuid.UUID) error {
	r.local.Delete(directoryKey(userID))
	if err := r.client.SafeDel(ctx, directoryKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate directory entry: %w", err)
	}
	return nil
}
