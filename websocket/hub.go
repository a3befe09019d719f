package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Hub tracks connected clients per interview session and fans events out to them
type Hub struct {
	sessions   map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan sessionMessage
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

type sessionMessage struct {
	sessionID string
	data      []byte
}

type Client struct {
	Hub            *Hub
	Conn           *websocket.Conn
	Send           chan []byte
	UserID         string
	SessionID      string
	MessageHandler func(*Client, Message)

	// closed is guarded by Hub.mu and set once Send has been closed
	closed bool
}

// Message is an inbound client frame, e.g. {"type":"answer","content":"..."}
type Message struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
}

// Event is an outbound frame pushed to every client of a session
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan sessionMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Stop is called
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			clients, ok := h.sessions[client.SessionID]
			if !ok {
				clients = make(map[*Client]bool)
				h.sessions[client.SessionID] = clients
			}
			clients[client] = true
			h.mu.Unlock()
			slog.Info("Client registered", "user_id", client.UserID, "session_id", client.SessionID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			slog.Info("Client unregistered", "user_id", client.UserID, "session_id", client.SessionID)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.sessions[message.sessionID] {
				select {
				case client.Send <- message.data:
				default:
					slog.Warn("Dropping slow websocket client", "session_id", client.SessionID)
					h.remove(client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for _, clients := range h.sessions {
				for client := range clients {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and closes every client send channel
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// remove must be called with h.mu held
func (h *Hub) remove(client *Client) {
	clients, ok := h.sessions[client.SessionID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	client.closed = true
	close(client.Send)
	if len(clients) == 0 {
		delete(h.sessions, client.SessionID)
	}
}

// ClientCount returns how many clients are subscribed to sessionID
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// PublishToSession queues an event for every client of sessionID. It never blocks;
// when the queue is full the event is dropped and clients can poll instead.
func (h *Hub) PublishToSession(sessionID, eventType string, payload interface{}) {
	data, err := json.Marshal(Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		slog.Error("Failed to marshal session event", "session_id", sessionID, "type", eventType, "error", err)
		return
	}

	select {
	case h.broadcast <- sessionMessage{sessionID: sessionID, data: data}:
	default:
		slog.Warn("Event queue full, dropping session event", "session_id", sessionID, "type", eventType)
	}
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID, sessionID string) *Client {
	client := &Client{
		Hub:       h,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		UserID:    userID,
		SessionID: sessionID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		// Hub is gone: hand back a client whose pumps exit straight away
		client.closed = true
		close(client.Send)
		slog.Warn("WebSocket client registered after hub stopped", "session_id", sessionID)
	}
	return client
}

func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err, "session_id", c.SessionID)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			slog.Warn("Failed to unmarshal message", "error", err, "session_id", c.SessionID)
			continue
		}
		slog.Debug("Message received", "type", msg.Type, "session_id", c.SessionID, "content_length", len(msg.Content))

		if c.MessageHandler == nil {
			slog.Warn("No handler for websocket message", "type", msg.Type, "session_id", c.SessionID)
			continue
		}
		// Answers run a provider call; keep reading pings meanwhile
		go c.MessageHandler(c, msg)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Reply sends a frame to this client only. Frames for a client the hub
// already removed, or whose buffer is full, are dropped.
func (c *Client) Reply(eventType string, payload interface{}) {
	data, err := json.Marshal(Event{
		Type:      eventType,
		SessionID: c.SessionID,
		Data:      payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		slog.Error("Failed to marshal reply", "session_id", c.SessionID, "error", err)
		return
	}
	if c.Hub != nil {
		c.Hub.mu.RLock()
		defer c.Hub.mu.RUnlock()
	}
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
		slog.Warn("Dropping reply for slow websocket client", "session_id", c.SessionID, "type", eventType)
	}
}
