package handlers

import (
	"context"
	"net/http"
	"time"

	"dharani-backend/pkg/utils"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health reports liveness and database reachability.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		dbStatus := "ok"
		if err := db.PingContext(ctx); err != nil {
			status, code, dbStatus = "degraded", http.StatusServiceUnavailable, err.Error()
		}
		utils.RespondJSON(w, code, map[string]interface{}{
			"status":   status,
			"database": dbStatus,
			"time":     time.Now().Unix(),
		})
	}
}
