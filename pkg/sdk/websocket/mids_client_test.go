package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMidsServer(t *testing.T, subscribed *atomic.Bool) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub.Method == "subscribe" && sub.Subscription["type"] == "allMids" {
			subscribed.Store(true)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"subscriptionResponse","data":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"allMids","data":{"mids":{"BTC":"65000.5","ETH":"3200.1"}}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestMidsClientReceivesSnapshot(t *testing.T) {
	var subscribed atomic.Bool
	srv := newMidsServer(t, &subscribed)
	defer srv.Close()

	var calls atomic.Int32
	cfg := DefaultConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	c := NewMidsClient(cfg, func(map[string]string) { calls.Add(1) })
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, func() bool {
		_, at := c.Snapshot()
		return !at.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	mids, _ := c.Snapshot()
	assert.Equal(t, "65000.5", mids["BTC"])
	assert.Equal(t, "3200.1", mids["ETH"])
	assert.True(t, subscribed.Load())
	assert.Equal(t, int32(1), calls.Load())

	mids["BTC"] = "0"
	again, _ := c.Snapshot()
	assert.Equal(t, "65000.5", again["BTC"], "snapshot must be a copy")
}

func TestMidsClientRejectsDoubleStart(t *testing.T) {
	c := NewMidsClient(DefaultConfig("ws://127.0.0.1:1"), nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()
	assert.Error(t, c.Start(context.Background()))
}

func TestMidsClientRequiresURL(t *testing.T) {
	assert.Error(t, NewMidsClient(DefaultConfig(""), nil).Start(context.Background()))
}
