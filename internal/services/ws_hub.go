package services

import (
	"encoding/json"
	"fmt"
	"sync"

	"shukku-list-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// WebSocket message types
const (
	WSTypeSnapshot     = "snapshot"
	WSTypeNotification = "notification"
	WSTypePreview      = "preview"
	WSTypeError        = "error"

	WSTypeAddItem    = "add_item"
	WSTypeToggleItem = "toggle_item"
	WSTypeDeleteItem = "delete_item"
	WSTypeClearDone  = "clear_done"
)

// clientSendBuffer is the number of outbound messages a client may lag behind
const clientSendBuffer = 256

// WSMessage represents a WebSocket message in either direction
type WSMessage struct {
	Type    string      `json:"type"`
	ItemID  string      `json:"item_id,omitempty"`
	Text    string      `json:"text,omitempty"`
	Qty     int         `json:"qty,omitempty"`
	URL     string      `json:"url,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Client is one WebSocket connection of a user. The transport drains Messages.
type Client struct {
	userID string
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client with a buffered outbound queue
func NewClient(userID string) *Client {
	return &Client{
		userID: userID,
		send:   make(chan []byte, clientSendBuffer),
	}
}

// UserID returns the owner of the connection
func (c *Client) UserID() string {
	return c.userID
}

// Messages returns the outbound queue. It is closed by Close.
func (c *Client) Messages() <-chan []byte {
	return c.send
}

// Send queues a message without blocking
func (c *Client) Send(message WSMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full for user %s", c.userID)
	}
}

// Close closes the outbound queue. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Snapshot sends the current list
func (c *Client) Snapshot(view *models.ListView) error {
	return c.Send(WSMessage{Type: WSTypeSnapshot, Data: view})
}

// Preview sends a product preview. A nil meta means none is available.
func (c *Client) Preview(url string, meta *models.Metadata) error {
	msg := WSMessage{Type: WSTypePreview, URL: url}
	if meta != nil {
		msg.Data = meta
	}
	return c.Send(msg)
}

// Error sends an error message
func (c *Client) Error(message string) error {
	return c.Send(WSMessage{Type: WSTypeError, Message: message})
}

// WSHub manages WebSocket connections
type WSHub struct {
	mu          sync.RWMutex
	connections map[string]map[*Client]struct{}
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		connections: make(map[string]map[*Client]struct{}),
	}
}

// Register adds a connection for its user. A user may hold several.
func (h *WSHub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[c.userID] == nil {
		h.connections[c.userID] = make(map[*Client]struct{})
	}
	h.connections[c.userID][c] = struct{}{}

	log.Info().
		Str("user_id", c.userID).
		Int("connections", len(h.connections[c.userID])).
		Msg("WebSocket connection registered")
}

// Unregister removes a connection and closes it
func (h *WSHub) Unregister(c *Client) {
	h.mu.Lock()
	if conns, exists := h.connections[c.userID]; exists {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.connections, c.userID)
			}
			log.Info().Str("user_id", c.userID).Msg("WebSocket connection unregistered")
		}
	}
	h.mu.Unlock()

	c.Close()
}

// SendToUser sends a message to every connection of a user
func (h *WSHub) SendToUser(userID string, message WSMessage) error {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.connections[userID]))
	for c := range h.connections[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return fmt.Errorf("user %s is not connected", userID)
	}

	var sent int
	for _, c := range targets {
		if err := c.Send(message); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to queue WebSocket message")
			continue
		}
		sent++
	}
	if sent == 0 {
		return fmt.Errorf("no connection of user %s accepted the message", userID)
	}
	return nil
}

// IsOnline checks if a user has an open connection
func (h *WSHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID]) > 0
}

// CloseAll closes every connection, used on shutdown
func (h *WSHub) CloseAll() {
	h.mu.Lock()
	all := h.connections
	h.connections = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, conns := range all {
		for c := range conns {
			c.Close()
		}
	}
}
