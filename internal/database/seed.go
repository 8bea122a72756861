package database

import (
	"context"
	"strings"
	"time"

	"dharani-backend/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// DemoUser is one seeded account; the password is only known here.
type DemoUser struct {
	Email    string
	Password string
	Name     string
	Role     string
	Area     string
	City     string
	Pincode  string
	Lat, Lng float64
	Profile  string
}

// DemoUsers are the accounts created by SeedUsers.
var DemoUsers = []DemoUser{
	{
		Email: "citizen@dharani.app", Password: "citizen123", Name: "Lakshmi Citizen", Role: models.RoleCitizen,
		Area: "Test Colony", City: "Bhimavaram", Pincode: "534202", Lat: 16.5449, Lng: 81.5185,
		Profile: `{"language_preference":"en","notification_preferences":["push"],"total_reports":0,"total_points":0,"level":"beginner"}`,
	},
	{
		Email: "worker@dharani.app", Password: "worker123", Name: "Ravi Worker", Role: models.RoleWorker,
		Area: "Test Colony", City: "Bhimavaram", Pincode: "534202", Lat: 16.5461, Lng: 81.5203,
		Profile: `{"worker_category":"independent_worker","worker_type":"collector","specializations":["mixed","plastic","organic"],"equipment_access":["handcart"],"max_travel_km":10,"shift_timing":"morning","total_jobs_completed":0,"average_rating":0,"total_earnings":0}`,
	},
	{
		Email: "officer@dharani.app", Password: "officer123", Name: "Sanitation Officer", Role: models.RoleGovernment,
		Area: "Test Colony", City: "Bhimavaram", Pincode: "534202", Lat: 16.5449, Lng: 81.5185,
		Profile: `{"designation":"Sanitary Inspector","department":"Municipal Sanitation","office_level":"municipal","jurisdiction":"Bhimavaram","access_level":"full","area_authority":["Test Colony"]}`,
	},
}

// SeedUsers creates the demo accounts when the users table is empty.
func (s *Store) SeedUsers(ctx context.Context, logger *zap.Logger) error {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return err
	}
	if count > 0 {
		logger.Info("✓ [SEED] Users already seeded, skipping...")
		return nil
	}

	logger.Info("🌱 [SEED] Seeding demo users...")
	now := time.Now().Unix()
	for _, d := range DemoUsers {
		hash, err := bcrypt.GenerateFromPassword([]byte(d.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		lat, lng := d.Lat, d.Lng
		u := &models.User{
			ID:          uuid.New().String(),
			Email:       strings.ToLower(d.Email),
			Password:    string(hash),
			Name:        d.Name,
			Role:        d.Role,
			Area:        d.Area,
			City:        d.City,
			Pincode:     d.Pincode,
			Latitude:    &lat,
			Longitude:   &lng,
			Profile:     []byte(d.Profile),
			IsAvailable: true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.CreateUser(ctx, u); err != nil {
			return err
		}
		logger.Info("  ✓ [SEED] Created user", zap.String("email", u.Email), zap.String("role", u.Role))
	}

	logger.Info("✓ [SEED] Successfully seeded demo users")
	return nil
}
