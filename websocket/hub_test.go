package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func join(t *testing.T, h *Hub, sessionID string, buffer int) *Client {
	t.Helper()
	c := &Client{Hub: h, Send: make(chan []byte, buffer), SessionID: sessionID}
	h.register <- c
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.sessions[sessionID][c]
	}, time.Second, 5*time.Millisecond)
	return c
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var e Event
		require.NoError(t, json.Unmarshal(data, &e))
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestPublishReachesOnlyThatSession(t *testing.T) {
	h := startHub(t)
	a1 := join(t, h, "session-a", 4)
	a2 := join(t, h, "session-a", 4)
	b := join(t, h, "session-b", 4)
	assert.Equal(t, 2, h.ClientCount("session-a"))
	assert.Equal(t, 1, h.ClientCount("session-b"))

	h.PublishToSession("session-a", "question", map[string]int{"current_question_index": 1})

	for _, c := range []*Client{a1, a2} {
		e := receive(t, c)
		assert.Equal(t, "question", e.Type)
		assert.Equal(t, "session-a", e.SessionID)
		assert.Equal(t, map[string]interface{}{"current_question_index": 1.0}, e.Data)
	}
	select {
	case <-b.Send:
		t.Fatal("session-b received an event for session-a")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	h := startHub(t)
	slow := join(t, h, "session-a", 0)

	h.PublishToSession("session-a", "timeout", nil)

	require.Eventually(t, func() bool { return h.ClientCount("session-a") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-slow.Send
	assert.False(t, open)
}

func TestUnregisterAndStop(t *testing.T) {
	h := NewHub()
	go h.Run()

	c := join(t, h, "session-a", 1)
	h.unregister <- c
	require.Eventually(t, func() bool { return h.ClientCount("session-a") == 0 }, time.Second, 5*time.Millisecond)

	other := join(t, h, "session-b", 1)
	h.Stop()
	require.Eventually(t, func() bool { return h.ClientCount("session-b") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-other.Send
	assert.False(t, open)
}

func TestReplyAfterRemovalIsDropped(t *testing.T) {
	h := NewHub()
	go h.Run()
	c := join(t, h, "session-a", 1)

	c.Reply("pong", nil)
	e := receive(t, c)
	assert.Equal(t, "pong", e.Type)

	h.Stop()
	require.Eventually(t, func() bool { return h.ClientCount("session-a") == 0 }, time.Second, 5*time.Millisecond)
	assert.NotPanics(t, func() { c.Reply("pong", nil) })
}

func TestRegisterAfterStopDoesNotBlock(t *testing.T) {
	h := NewHub()
	go h.Run()
	h.Stop()

	registered := make(chan *Client)
	go func() { registered <- h.RegisterClient(nil, "user-1", "session-a") }()

	select {
	case c := <-registered:
		_, open := <-c.Send
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("RegisterClient blocked on a stopped hub")
	}
}

func TestReadPumpReturnsAfterStop(t *testing.T) {
	h := NewHub()
	go h.Run()
	h.Stop()

	returned := make(chan struct{})
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &Client{Hub: h, Conn: conn, Send: make(chan []byte, 1), SessionID: "session-a"}
		c.ReadPump()
		close(returned)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("ReadPump blocked unregistering from a stopped hub")
	}
}
