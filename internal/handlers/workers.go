package handlers

import (
	"context"
	"net/http"
	"strings"

	"dharani-backend/internal/geo"
	"dharani-backend/internal/models"
	"dharani-backend/internal/validation"
	"dharani-backend/pkg/utils"

	"go.uber.org/zap"
)

// WorkerLocationStore persists a worker's position. *database.Store
// satisfies it.
type WorkerLocationStore interface {
	UpdateWorkerLocation(ctx context.Context, userID string, u models.WorkerLocationUpdate) (*models.User, error)
}

// UpdateWorkerLocation records where a worker is and, when is_available is
// sent, whether they are taking jobs. Matching uses the stored position.
func UpdateWorkerLocation(locations WorkerLocationStore, v *validation.Validator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsOf(w, r)
		if !ok {
			return
		}
		raw, ok := readBody(w, r)
		if !ok {
			return
		}
		var req models.WorkerLocationUpdate
		if err := v.Decode(validation.WorkerLocation, raw, &req); err != nil {
			respondServiceError(w, logger, "update location", err)
			return
		}
		if err := (geo.Point{Latitude: req.Latitude, Longitude: req.Longitude}).Validate(); err != nil {
			respondServiceError(w, logger, "update location", err)
			return
		}
		req.Area = strings.TrimSpace(req.Area)
		req.City = strings.TrimSpace(req.City)

		user, err := locations.UpdateWorkerLocation(r.Context(), claims.UserID, req)
		if err != nil {
			respondServiceError(w, logger, "update location", err)
			return
		}

		logger.Info("📍 [WORKER] Location updated",
			zap.String("user_id", user.ID),
			zap.String("city", user.City),
			zap.Bool("is_available", user.IsAvailable))

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Location updated successfully",
			"location": map[string]interface{}{
				"latitude":     user.Latitude,
				"longitude":    user.Longitude,
				"area":         user.Area,
				"city":         user.City,
				"is_available": user.IsAvailable,
			},
		})
	}
}
