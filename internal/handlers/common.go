package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"dharani-backend/internal/database"
	"dharani-backend/internal/geo"
	"dharani-backend/internal/lifecycle"
	"dharani-backend/internal/middleware"
	"dharani-backend/internal/models"
	"dharani-backend/internal/services"
	"dharani-backend/internal/validation"
	"dharani-backend/pkg/utils"

	"go.uber.org/zap"
)

const maxJSONBody = 1 << 20

// UserStore is the user persistence the handlers need. *database.Store
// satisfies it.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	SaveFCMToken(ctx context.Context, userID, token, deviceType string) error
}

// currentUser loads the authenticated caller's user record.
func currentUser(w http.ResponseWriter, r *http.Request, users UserStore, logger *zap.Logger) (*models.User, bool) {
	claims, ok := claimsOf(w, r)
	if !ok {
		return nil, false
	}
	user, err := users.GetUserByID(r.Context(), claims.UserID)
	if errors.Is(err, database.ErrNotFound) {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	if err != nil {
		logger.Error("❌ [AUTH] Failed to load caller", zap.String("user_id", claims.UserID), zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "Service temporarily unavailable, please try again")
		return nil, false
	}
	return user, true
}

func claimsOf(w http.ResponseWriter, r *http.Request) (middleware.UserClaims, bool) {
	claims, ok := middleware.GetUserFromContext(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return claims, ok
}

func callerOf(u *models.User) services.Caller {
	return services.Caller{UserID: u.ID, Role: u.Role, Area: u.Area, City: u.City}
}

// readBody reads a bounded JSON body for schema validation.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	return raw, true
}

// respondServiceError maps domain errors onto HTTP statuses. Anything
// unrecognised is a persistence or collaborator failure.
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, validation.ErrInvalid),
		errors.Is(err, geo.ErrInvalidCoordinate):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, services.ErrForbidden),
		errors.Is(err, lifecycle.ErrNotAssigned):
		utils.RespondError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, database.ErrConflict):
		utils.RespondError(w, http.StatusConflict, "The bin changed since it was read, refresh and try again")
	case errors.Is(err, lifecycle.ErrWrongState),
		errors.Is(err, database.ErrInvalidTransition):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrDuplicate):
		utils.RespondError(w, http.StatusConflict, "Already exists")
	default:
		logger.Error("❌ [API] "+op+" failed", zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "Service temporarily unavailable, please try again")
	}
}
