package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"dharani-backend/internal/models"
	"dharani-backend/internal/services"
	"dharani-backend/internal/validation"
	"dharani-backend/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Geocoder resolves a free-form address to a position.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*services.Address, error)
}

type CreateUserRequest struct {
	Email     string          `json:"email"`
	Password  string          `json:"password"`
	Name      string          `json:"name"`
	Role      string          `json:"role"`
	Phone     *string         `json:"phone,omitempty"`
	Area      string          `json:"area"`
	City      string          `json:"city"`
	Pincode   string          `json:"pincode"`
	Address   string          `json:"address"`
	Latitude  *float64        `json:"latitude,omitempty"`
	Longitude *float64        `json:"longitude,omitempty"`
	Profile   json.RawMessage `json:"profile,omitempty"`
}

type CreateUserResponse struct {
	Success bool                 `json:"success"`
	User    *models.UserResponse `json:"user,omitempty"`
	Message string               `json:"message,omitempty"`
}

// CreateUser provisions a citizen, worker or government account.
// geocoder may be nil; without it a worker must be created with coordinates.
func CreateUser(users UserStore, v *validation.Validator, geocoder Geocoder, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readBody(w, r)
		if !ok {
			return
		}
		var req CreateUserRequest
		if err := v.Decode(validation.CreateUser, raw, &req); err != nil {
			respondServiceError(w, logger, "create user", err)
			return
		}
		if err := v.ValidateProfile(req.Role, req.Profile); err != nil {
			respondServiceError(w, logger, "create user", err)
			return
		}

		logger.Info("📥 [USERS] Creating user",
			zap.String("email", req.Email), zap.String("role", req.Role), zap.String("city", req.City))

		if req.Latitude == nil && req.Address != "" && geocoder != nil {
			addr, err := geocoder.Geocode(r.Context(), req.Address)
			if err != nil {
				logger.Warn("⚠️  [USERS] Could not geocode address", zap.String("address", req.Address), zap.Error(err))
			} else {
				req.Latitude, req.Longitude = &addr.Coordinates.Lat, &addr.Coordinates.Lng
				if req.Area == "" {
					req.Area = addr.Area
				}
				if req.City == "" {
					req.City = addr.City
				}
				if req.Pincode == "" {
					req.Pincode = addr.Pincode
				}
			}
		}
		if req.Role == models.RoleWorker && (req.Latitude == nil || req.Area == "" || req.City == "") {
			utils.RespondError(w, http.StatusBadRequest, "workers need area, city and a location (latitude/longitude or a geocodable address)")
			return
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			logger.Error("❌ [USERS] Failed to hash password", zap.Error(err))
			utils.RespondError(w, http.StatusInternalServerError, "Failed to hash password")
			return
		}

		now := time.Now().Unix()
		user := models.User{
			ID:          uuid.New().String(),
			Email:       strings.ToLower(req.Email),
			Password:    string(hashed),
			Name:        strings.TrimSpace(req.Name),
			Role:        req.Role,
			Phone:       req.Phone,
			Area:        req.Area,
			City:        req.City,
			Pincode:     req.Pincode,
			Latitude:    req.Latitude,
			Longitude:   req.Longitude,
			Profile:     []byte(req.Profile),
			IsAvailable: req.Role == models.RoleWorker,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if len(user.Profile) == 0 {
			user.Profile = []byte("{}")
		}

		if err := users.CreateUser(r.Context(), &user); err != nil {
			respondServiceError(w, logger, "create user", err)
			return
		}

		logger.Info("✅ [USERS] User created", zap.String("id", user.ID), zap.String("role", user.Role))
		resp := user.ToUserResponse()
		utils.RespondJSON(w, http.StatusCreated, CreateUserResponse{
			Success: true,
			User:    &resp,
			Message: "User created successfully",
		})
	}
}
