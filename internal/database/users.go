package database

import (
	"context"
	"fmt"
	"strings"

	"dharani-backend/internal/models"
)

const userColumns = `id, email, password, name, role, phone, area, city, pincode,
	latitude, longitude, profile, is_available, created_at, updated_at`

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// CreateUser inserts u. ID, password hash and timestamps must already be set.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if len(u.Profile) == 0 {
		u.Profile = []byte("{}")
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, password, name, role, phone, area, city, pincode,
			latitude, longitude, profile, is_available, created_at, updated_at)
		VALUES (:id, :email, :password, :name, :role, :phone, :area, :city, :pincode,
			:latitude, :longitude, :profile, :is_available, :created_at, :updated_at)
	`, u)
	if err != nil {
		return fmt.Errorf("insert user: %w", duplicate(err))
	}
	return nil
}

// ListAvailableWorkers returns workers in city who are available and have a
// known position. The city match is case-insensitive.
func (s *Store) ListAvailableWorkers(ctx context.Context, city string) ([]models.User, error) {
	var workers []models.User
	err := s.db.SelectContext(ctx, &workers, `
		SELECT `+userColumns+` FROM users
		WHERE role = 'worker'
		  AND is_available = TRUE
		  AND latitude IS NOT NULL AND longitude IS NOT NULL
		  AND LOWER(city) = LOWER($1)
		ORDER BY created_at
	`, city)
	if err != nil {
		return nil, fmt.Errorf("list available workers: %w", err)
	}
	return workers, nil
}

// UpdateWorkerLocation moves a worker and optionally changes their
// availability. Empty area or city keep the stored value.
func (s *Store) UpdateWorkerLocation(ctx context.Context, userID string, u models.WorkerLocationUpdate) (*models.User, error) {
	var out models.User
	err := s.db.GetContext(ctx, &out, `
		UPDATE users SET
			latitude = $2,
			longitude = $3,
			area = COALESCE(NULLIF($4, ''), area),
			city = COALESCE(NULLIF($5, ''), city),
			is_available = COALESCE($6, is_available),
			updated_at = $7
		WHERE id = $1 AND role = 'worker'
		RETURNING `+userColumns,
		userID, u.Latitude, u.Longitude, u.Area, u.City, u.IsAvailable, s.now().Unix())
	if err != nil {
		return nil, notFound(err)
	}
	return &out, nil
}

// SaveFCMToken inserts or re-homes a device token.
func (s *Store) SaveFCMToken(ctx context.Context, userID, token, deviceType string) error {
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fcm_tokens (user_id, token, device_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			device_type = excluded.device_type,
			updated_at = excluded.updated_at
	`, userID, token, deviceType, now, now)
	return err
}

func (s *Store) GetFCMTokens(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	err := s.db.SelectContext(ctx, &tokens,
		`SELECT token FROM fcm_tokens WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	return tokens, err
}
