package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// =============================================================================
// Delivery
// =============================================================================

func TestHub_DeliversResultsToDefaultSubscribers(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	require.True(t, hub.SubmitResult(&entity.ScanResult{RequestID: "req-1", Verdict: entity.VerdictMalicious}))

	msg := readMessage(t, conn)
	assert.Equal(t, "result", msg["type"])
	payload := msg["payload"].(map[string]any)
	assert.Equal(t, "req-1", payload["request_id"])
}

func TestHub_ShadowNeedsSubscription(t *testing.T) {
	hub, srv := startHub(t)
	scansOnly := dial(t, srv, "")
	both := dial(t, srv, "?topics=scans,shadow")
	waitClients(t, hub, 2)

	require.True(t, hub.SubmitShadow(&entity.ShadowComparisonRecord{RequestID: "req-2"}))
	require.True(t, hub.SubmitResult(&entity.ScanResult{RequestID: "req-3"}))

	first := readMessage(t, both)
	assert.Equal(t, "shadow", first["type"])
	second := readMessage(t, both)
	assert.Equal(t, "result", second["type"])

	// the scans-only client sees the result and nothing before it
	only := readMessage(t, scansOnly)
	assert.Equal(t, "result", only["type"])
}

func TestHub_SubscribeAtRuntime(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "topic": TopicShadow}))
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "unsubscribe", "topic": TopicScans}))

	var c *client
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for cl := range hub.clients {
			c = cl
		}
		return c != nil && c.isSubscribed(TopicShadow) && !c.isSubscribed(TopicScans)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	// not running: nothing drains the broadcast queue
	for i := 0; i < sendBuffer; i++ {
		require.True(t, hub.SubmitResult(&entity.ScanResult{}))
	}
	assert.False(t, hub.SubmitResult(&entity.ScanResult{}))
}

func TestInitialTopics(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]bool
	}{
		{"", map[string]bool{TopicScans: true}},
		{"shadow", map[string]bool{TopicShadow: true}},
		{"scans, shadow", map[string]bool{TopicScans: true, TopicShadow: true}},
		{"bogus", map[string]bool{TopicScans: true}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, initialTopics(tt.raw))
		})
	}
}
