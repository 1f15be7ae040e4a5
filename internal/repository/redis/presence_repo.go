package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"careconnect-backend/pkg/constants"
	"careconnect-backend/pkg/database"
)

// PresenceRepository tracks doctor availability in Redis. A doctor is
// available while their presence key lives; the key expires unless the
// client heartbeats, so a crashed station drops out of matching on its own.
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:doctor:%s", userID)
}

func specialtyKey(specialty string) string {
	return fmt.Sprintf("presence:specialty:%s", specialty)
}

// SetOnline marks a doctor as available for the given specialty.
func (r *PresenceRepository) SetOnline(ctx context.Context, userID uuid.UUID, specialty string) error {
	err := r.client.SafeSet(ctx, presenceKey(userID), specialty, constants.PresenceTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set doctor online: %w", err)
	}

	// Membership in the specialty set is advisory; OnlineDoctors filters
	// out members whose presence key already expired.
	err = r.client.SafeSAdd(ctx, specialtyKey(specialty), userID.String()).Err()
	if err != nil {
		return fmt.Errorf("failed to add to specialty set: %w", err)
	}

	return nil
}

// SetOffline removes a doctor from availability.
func (r *PresenceRepository) SetOffline(ctx context.Context, userID uuid.UUID, specialty string) error {
	if err := r.client.SafeDel(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}

	if err := r.client.SafeSRem(ctx, specialtyKey(specialty), userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove from specialty set: %w", err)
	}

	return nil
}

// Heartbeat keeps a doctor listed as available.
func (r *PresenceRepository) Heartbeat(ctx context.Context, userID uuid.UUID) error {
	ok, err := r.client.SafeExpire(ctx, presenceKey(userID), constants.PresenceTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	if !ok {
		// Key already expired; the client must re-register with SetOnline.
		return fmt.Errorf("presence expired for doctor %s", userID)
	}
	return nil
}

// IsOnline checks if a doctor is currently available.
func (r *PresenceRepository) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	exists, err := r.client.SafeExists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}

// OnlineDoctors returns the doctors currently available for a specialty.
// Stale set members (presence key expired without an explicit SetOffline)
// are pruned as they are discovered.
func (r *PresenceRepository) OnlineDoctors(ctx context.Context, specialty string) ([]uuid.UUID, error) {
	members, err := r.client.SafeSMembers(ctx, specialtyKey(specialty)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list specialty doctors: %w", err)
	}

	doctors := make([]uuid.UUID, 0, len(members))
	for _, idStr := range members {
		userID, err := uuid.Parse(idStr)
		if err != nil {
			continue // Skip invalid UUIDs
		}

		online, err := r.IsOnline(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !online {
			r.client.SafeSRem(ctx, specialtyKey(specialty), idStr)
			continue
		}
		doctors = append(doctors, userID)
	}

	return doctors, nil
}

// OnlineCount returns the number of doctors listed for a specialty.
func (r *PresenceRepository) OnlineCount(ctx context.Context, specialty string) (int64, error) {
	count, err := r.client.SafeSCard(ctx, specialtyKey(specialty)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count specialty doctors: %w", err)
	}
	return count, nil
}

// IsDegraded returns true if Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
