package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dharani-backend/internal/middleware"
	"dharani-backend/internal/models"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dial(t *testing.T, srv *httptest.Server, token string) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_DeliversToUserAndRole(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	auth := middleware.NewAuthenticator("secret", time.Hour, zap.NewNop())
	srv := httptest.NewServer(HandleWebSocket(hub, auth, nil))
	defer srv.Close()

	citizenToken, err := auth.IssueToken(&models.User{ID: "c1", Role: models.RoleCitizen})
	require.NoError(t, err)
	govToken, err := auth.IssueToken(&models.User{ID: "g1", Role: models.RoleGovernment})
	require.NoError(t, err)

	citizen := dial(t, srv, citizenToken)
	gov := dial(t, srv, govToken)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, hub.IsUserConnected("c1"))

	hub.BroadcastToUser("c1", Event{Type: "timeline_entry", Data: map[string]string{"step": "submitted"}})
	hub.BroadcastToRole(models.RoleGovernment, Event{Type: "timeline_entry", Data: map[string]string{"step": "analyzing"}})

	var got Event
	citizen.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := citizen.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "timeline_entry", got.Type)
	assert.Equal(t, map[string]interface{}{"step": "submitted"}, got.Data)

	gov.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err = gov.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "analyzing")
}

func TestHandleWebSocket_RejectsBadToken(t *testing.T) {
	hub := NewHub(zap.NewNop())
	auth := middleware.NewAuthenticator("secret", time.Hour, zap.NewNop())
	srv := httptest.NewServer(HandleWebSocket(hub, auth, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=nope"
	_, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
