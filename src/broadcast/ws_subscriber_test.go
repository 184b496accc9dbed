package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderengine/src/model"
)

func newWSServer(t *testing.T, b *Broadcaster, orderID string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub := NewWSSubscriber(conn, time.Second)
		if err := b.Attach(orderID, sub); err != nil {
			return
		}
		go sub.ReadPump(
			func() { b.MarkAlive(orderID, sub) },
			func() { b.DetachIf(orderID, sub) },
		)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSSubscriberDeliversUpdates(t *testing.T) {
	b := NewBroadcaster()
	conn := dial(t, newWSServer(t, b, "o-1"))

	var first model.StatusUpdate
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, model.StatusConnected, first.Status)
	assert.Equal(t, "o-1", first.OrderID)

	require.Eventually(t, func() bool { return b.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)

	b.Publish("o-1", model.StatusUpdate{OrderID: "o-1", Status: model.StatusRouting, Message: "Comparing venue prices"})

	var next model.StatusUpdate
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, model.StatusRouting, next.Status)
	assert.Equal(t, "Comparing venue prices", next.Message)
}

func TestWSSubscriberPongKeepsConnectionAlive(t *testing.T) {
	b := NewBroadcaster()
	conn := dial(t, newWSServer(t, b, "o-1"))

	var first model.StatusUpdate
	require.NoError(t, conn.ReadJSON(&first))
	require.Eventually(t, func() bool { return b.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)

	// The client must be reading for the default ping handler to answer.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 3; i++ {
		b.Sweep()
		time.Sleep(100 * time.Millisecond)
	}
	assert.Equal(t, 1, b.ActiveConnections())
}

func TestWSSubscriberClientCloseDetaches(t *testing.T) {
	b := NewBroadcaster()
	conn := dial(t, newWSServer(t, b, "o-1"))

	var first model.StatusUpdate
	require.NoError(t, conn.ReadJSON(&first))
	require.Eventually(t, func() bool { return b.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	assert.Eventually(t, func() bool { return b.ActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
}
