package announce

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escaperoom/internal/logger"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(hub, logger.Discard()).RegisterRoutes(r.Group("/api/v1"))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/slots"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubBroadcastsToObservers(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)

	require.NoError(t, hub.Publish(context.Background(), Event{
		Type:       EventSlotsBooked,
		PaymentRef: "P1",
		SlotKeys:   []string{"2026-June-12-SUBMARINE-17:00"},
	}))

	ev := readEvent(t, conn)
	assert.Equal(t, EventSlotsBooked, ev.Type)
	assert.Equal(t, "P1", ev.PaymentRef)
}

func TestHubPrefixSubscription(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "prefix": "2026-July"}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.connections {
			return c.prefixes["2026-July"]
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), Event{Type: EventSlotsReleased, SlotKeys: []string{"2026-June-12-SUBMARINE-17:00"}}))
	require.NoError(t, hub.Publish(context.Background(), Event{Type: EventSlotsBooked, SlotKeys: []string{"2026-July-1-SUBMARINE-17:00"}}))

	ev := readEvent(t, conn)
	assert.Equal(t, EventSlotsBooked, ev.Type)
}

func TestConnectionWants(t *testing.T) {
	c := &connection{prefixes: map[string]bool{}}
	assert.True(t, c.wants([]string{"2026-June-1-SUBMARINE-09:30"}))

	c.prefixes["2026-June"] = true
	assert.True(t, c.wants([]string{"2026-June-1-SUBMARINE-09:30"}))
	assert.False(t, c.wants([]string{"2027-June-1-SUBMARINE-09:30"}))
	assert.True(t, c.wants(nil))
}
