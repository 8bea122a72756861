package websocket

import (
	"net/http"
	"slices"

	"dharani-backend/internal/middleware"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleWebSocket upgrades an authenticated HTTP connection to WebSocket.
// Browsers cannot set headers on the upgrade request, so the token comes
// from the query string. An empty allowedOrigins list accepts any origin.
func HandleWebSocket(hub *Hub, auth *middleware.Authenticator, allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, err := auth.ParseToken(r.URL.Query().Get("token"))
		if err != nil {
			hub.logger.Info("❌ [WEBSOCKET] Rejected connection", zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("❌ [WEBSOCKET] Upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(userClaims.UserID, userClaims.Role, conn, hub)
		if !hub.add(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
