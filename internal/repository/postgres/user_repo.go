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

// UserRepository handles user profile data in PostgreSQL. Credentials live
// in the external identity provider; rows here are profiles only.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Upsert inserts a profile or refreshes it if the user is already known.
// Called when a token from the identity provider names a user we have not
// seen yet.
func (r *UserRepository) Upsert(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (user_id, role, display_name, avatar_url, specialty)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET role = EXCLUDED.role,
		    display_name = EXCLUDED.display_name,
		    avatar_url = EXCLUDED.avatar_url,
		    specialty = EXCLUDED.specialty,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		user.UserID,
		user.Role,
		user.DisplayName,
		user.AvatarURL,
		user.Specialty,
	).Scan(&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `
		SELECT user_id, role, display_name, avatar_url, specialty, created_at, updated_at
		FROM users
		WHERE user_id = $1
	`

	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&user.UserID,
		&user.Role,
		&user.DisplayName,
		&user.AvatarURL,
		&user.Specialty,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetDisplayInfo retrieves the fields shown to a counterpart.
func (r *UserRepository) GetDisplayInfo(ctx context.Context, userID uuid.UUID) (*domain.DisplayInfo, error) {
	user, err := r.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.ToDisplayInfo(), nil
}

// GetDisplayInfos retrieves display info for a batch of users. Unknown IDs
// are simply absent from the result.
func (r *UserRepository) GetDisplayInfos(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*domain.DisplayInfo, error) {
	if len(userIDs) == 0 {
		return map[uuid.UUID]*domain.DisplayInfo{}, nil
	}

	query := `
		SELECT user_id, role, display_name, avatar_url, specialty
		FROM users
		WHERE user_id = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get display infos: %w", err)
	}
	defer rows.Close()

	infos := make(map[uuid.UUID]*domain.DisplayInfo, len(userIDs))
	for rows.Next() {
		info := &domain.DisplayInfo{}
		err := rows.Scan(
			&info.UserID,
			&info.Role,
			&info.DisplayName,
			&info.AvatarURL,
			&info.Specialty,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan display info: %w", err)
		}
		infos[info.UserID] = info
	}

	return infos, nil
}

// Update updates the mutable profile fields
func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET display_name = $1, avatar_url = $2, specialty = $3, updated_at = NOW()
		WHERE user_id = $4
	`

	cmdTag, err := r.pool.Exec(ctx, query,
		user.DisplayName,
		user.AvatarURL,
		user.Specialty,
		user.UserID,
	)

	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return apperrors.UserNotFoundError()
	}

	return nil
}

// ListDoctorsBySpecialty retrieves doctors matching a specialty, or all
// doctors when specialty is empty.
func (r *UserRepository) ListDoctorsBySpecialty(ctx context.Context, specialty string) ([]*domain.User, error) {
	query := `
		SELECT user_id, role, display_name, avatar_url, specialty, created_at, updated_at
		FROM users
		WHERE role = $1 AND ($2 = '' OR specialty = $2)
		ORDER BY display_name
	`

	rows, err := r.pool.Query(ctx, query, domain.RoleDoctor, specialty)
	if err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	defer rows.Close()

	var doctors []*domain.User
	for rows.Next() {
		user := &domain.User{}
		err := rows.Scan(
			&user.UserID,
			&user.Role,
			&user.DisplayName,
			&user.AvatarURL,
			&user.Specialty,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan doctor: %w", err)
		}
		doctors = append(doctors, user)
	}

	return doctors, nil
}

// Delete removes a user profile
func (r *UserRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM users WHERE user_id = $1`

	cmdTag, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return apperrors.UserNotFoundError()
	}

	return nil
}
