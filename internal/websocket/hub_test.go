package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairon-backend/internal/logger"
	"kairon-backend/internal/middleware"
	"kairon-backend/internal/models"
)

func newTestHub(t *testing.T) (*Hub, *middleware.JWTAuth, *httptest.Server) {
	t.Helper()
	auth := middleware.NewJWTAuth("test-secret")
	hub := NewHub(nil, auth, "http://localhost:5173", logger.Nop())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, auth, srv
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
}

func TestHub_RejectsMissingOrBadToken(t *testing.T) {
	_, _, srv := newTestHub(t)

	for _, token := range []string{"", "garbage"} {
		_, resp, err := gws.DefaultDialer.Dial(wsURL(srv, token), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	_, auth, srv := newTestHub(t)
	token, err := auth.GenerateAccessToken(uuid.New(), "ana@example.com")
	require.NoError(t, err)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := gws.DefaultDialer.Dial(wsURL(srv, token), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHub_FansOutToEverySocket(t *testing.T) {
	hub, auth, srv := newTestHub(t)
	userID := uuid.New()
	token, err := auth.GenerateAccessToken(userID, "ana@example.com")
	require.NoError(t, err)

	first, _, err := gws.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	defer first.Close()
	second, _, err := gws.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	defer second.Close()

	require.Eventually(t, func() bool { return hub.connectionCount(userID) == 2 }, time.Second, 10*time.Millisecond)

	data, err := json.Marshal(models.WSMessage{Type: models.WSArtifactReady, Payload: map[string]string{"kind": "summary"}})
	require.NoError(t, err)
	hub.broadcast(userID, data)

	for _, c := range []*gws.Conn{first, second} {
		c.SetReadDeadline(time.Now().Add(time.Second))
		var msg struct {
			Type    string            `json:"type"`
			Payload map[string]string `json:"payload"`
		}
		require.NoError(t, c.ReadJSON(&msg))
		assert.Equal(t, "artifact_ready", msg.Type)
		assert.Equal(t, "summary", msg.Payload["kind"])
	}

	first.Close()
	require.Eventually(t, func() bool { return hub.connectionCount(userID) == 1 }, time.Second, 10*time.Millisecond)
}
