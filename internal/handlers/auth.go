package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"dharani-backend/internal/database"
	"dharani-backend/internal/middleware"
	"dharani-backend/internal/models"
	"dharani-backend/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	OK    bool                 `json:"ok"`
	Token string               `json:"token,omitempty"`
	User  *models.UserResponse `json:"user,omitempty"`
}

func Login(users UserStore, auth *middleware.Authenticator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))
		logger.Info("🔐 [AUTH] Login attempt", zap.String("email", email))

		user, err := users.GetUserByEmail(r.Context(), email)
		if errors.Is(err, database.ErrNotFound) {
			logger.Info("❌ [AUTH] User not found", zap.String("email", email))
			utils.RespondJSON(w, http.StatusUnauthorized, LoginResponse{OK: false})
			return
		}
		if err != nil {
			respondServiceError(w, logger, "login", err)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			logger.Info("❌ [AUTH] Invalid password", zap.String("email", email))
			utils.RespondJSON(w, http.StatusUnauthorized, LoginResponse{OK: false})
			return
		}

		token, err := auth.IssueToken(user)
		if err != nil {
			logger.Error("❌ [AUTH] Failed to sign token", zap.Error(err))
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create token")
			return
		}

		resp := user.ToUserResponse()
		logger.Info("✅ [AUTH] Login successful", zap.String("email", user.Email), zap.String("role", user.Role))
		utils.RespondJSON(w, http.StatusOK, LoginResponse{OK: true, Token: token, User: &resp})
	}
}

// GetAuthStatus returns the caller's user record, confirming the token is
// still good.
func GetAuthStatus(users UserStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, users, logger)
		if !ok {
			return
		}
		resp := user.ToUserResponse()
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"authenticated": true,
			"user":          resp,
		})
	}
}

// RegisterFCMToken stores a device token for push notifications.
func RegisterFCMToken(users UserStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsOf(w, r)
		if !ok {
			return
		}

		var req struct {
			Token      string `json:"token"`
			DeviceType string `json:"device_type"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			utils.RespondError(w, http.StatusBadRequest, "token is required")
			return
		}
		if req.DeviceType != "ios" && req.DeviceType != "android" && req.DeviceType != "web" {
			utils.RespondError(w, http.StatusBadRequest, "Invalid device_type (must be 'ios', 'android' or 'web')")
			return
		}

		if err := users.SaveFCMToken(r.Context(), claims.UserID, req.Token, req.DeviceType); err != nil {
			respondServiceError(w, logger, "register fcm token", err)
			return
		}

		logger.Info("📱 [FCM] Token registered", zap.String("user_id", claims.UserID), zap.String("device", req.DeviceType))
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "FCM token registered successfully",
		})
	}
}
