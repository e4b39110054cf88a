package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echezona/sokopay/internal/notify"
)

func startHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	hub := NewHub(slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)
	return hub, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubBroadcastsOrderEvents(t *testing.T) {
	hub, srv, cancel := startHub(t)
	defer cancel()

	conn := dial(t, srv)

	// Give the register message time to land before broadcasting.
	require.Eventually(t, func() bool {
		return hub.Stats()["connectedClients"].(int) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastOrder("ord_1", "paid", "usr_buyer", "usr_seller", 120000)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, EventOrder, ev.Type)
	data := ev.Data.(map[string]any)
	assert.Equal(t, "ord_1", data["orderId"])
	assert.Equal(t, "paid", data["status"])
}

func TestHubNotificationSink(t *testing.T) {
	hub, srv, cancel := startHub(t)
	defer cancel()

	conn := dial(t, srv)
	require.Eventually(t, func() bool {
		return hub.Stats()["connectedClients"].(int) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sink := hub.NotificationSink()
	sink.Deliver(&notify.Notification{
		UserID: "usr_1", Kind: "order.paid", Message: "Order paid.", CreatedAt: time.Now(),
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, EventNotification, ev.Type)
}

func TestShouldSendFilters(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))

	event := &Event{
		Type: EventOrder,
		Data: map[string]any{"buyerId": "usr_a", "sellerId": "usr_b"},
	}

	all := &Client{sub: Subscription{AllEvents: true}}
	assert.True(t, hub.shouldSend(all, event))

	byType := &Client{sub: Subscription{EventTypes: []EventType{EventDispute}}}
	assert.False(t, hub.shouldSend(byType, event))

	byUser := &Client{sub: Subscription{UserIDs: []string{"usr_a"}}}
	assert.True(t, hub.shouldSend(byUser, event))

	otherUser := &Client{sub: Subscription{UserIDs: []string{"usr_z"}}}
	assert.False(t, hub.shouldSend(otherUser, event))
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub, srv, cancel := startHub(t)

	conn := dial(t, srv)
	require.Eventually(t, func() bool {
		return hub.Stats()["connectedClients"].(int) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err) // connection closed by hub
}
