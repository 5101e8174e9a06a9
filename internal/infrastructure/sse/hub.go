// Package sse streams engine events (ledger and claim changes) to connected
// UI surfaces over Server-Sent Events.
package sse

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClientNotFound = errors.New("SSE client not found")
	ErrChannelFull    = errors.New("SSE message channel full")
)

// Message is one event pushed to a client.
type Message struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewMessage builds a message with a fresh id.
func NewMessage(event string, data json.RawMessage) *Message {
	return &Message{ID: uuid.NewString(), Event: event, Data: data}
}

// Client is one active SSE connection scoped to a session.
type Client struct {
	ClientID    string
	SessionID   string
	PlayerID    string
	ConnectedAt time.Time
	MessageChan chan *Message
}

// NewClient creates a client subscribed to one session's events.
func NewClient(sessionID, playerID string) *Client {
	return &Client{
		ClientID:    uuid.NewString(),
		SessionID:   sessionID,
		PlayerID:    playerID,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *Message, 100),
	}
}

// Close closes the client's message channel.
func (c *Client) Close() {
	close(c.MessageChan)
}

// Hub manages SSE clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastToSession fans a message out to every client of the session.
func (h *Hub) BroadcastToSession(sessionID string, message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.SessionID == sessionID {
			trySend(c, message)
		}
	}
}

// SendToPlayer delivers a message to every connection of one player in the
// session.
func (h *Hub) SendToPlayer(sessionID, playerID string, message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.SessionID == sessionID && c.PlayerID == playerID {
			trySend(c, message)
		}
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func trySend(c *Client, msg *Message) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}
