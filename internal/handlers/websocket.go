package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"shukku-list-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub         *services.WSHub
	userService *services.UserService
	deps        services.SessionDeps
	sessionCfg  services.SessionConfig
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *services.WSHub,
	userService *services.UserService,
	deps services.SessionDeps,
	sessionCfg services.SessionConfig,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		userService: userService,
		deps:        deps,
		sessionCfg:  sessionCfg,
	}
}

// HandleWebSocket handles GET /ws?token=
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Get token from query parameter
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}

	userID, err := h.userService.ValidateJWT(token)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := services.NewClient(userID)
	h.hub.Register(client)
	go writePump(conn, client)

	session := services.NewSession(userID, h.deps, h.sessionCfg, client)
	defer func() {
		session.Close()
		h.hub.Unregister(client)
	}()

	ctx := r.Context()
	if _, err := session.Attach(ctx); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to attach session")
		_ = client.Error("Failed to load list")
		return
	}

	go func() {
		if err := session.Run(context.Background()); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Session ended")
			_ = client.Error("List connection lost")
			// Closing the queue flushes the error and ends the connection
			h.hub.Unregister(client)
		}
	}()

	log.Info().Str("user_id", userID).Str("pair_id", session.PairID()).Msg("WebSocket connection established")

	h.readPump(ctx, conn, client, session)
}

// readPump dispatches client messages until the connection fails
func (h *WebSocketHandler) readPump(ctx context.Context, conn *websocket.Conn, client *services.Client, session *services.Session) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", client.UserID()).Msg("WebSocket error")
			}
			return
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			_ = client.Error("Invalid message format")
			continue
		}

		if err := handleMessage(ctx, session, msg); err != nil {
			status, message := errorStatus(err)
			if status >= http.StatusInternalServerError {
				log.Error().Err(err).Str("user_id", client.UserID()).Str("type", msg.Type).Msg("Failed to handle message")
			}
			_ = client.Error(message)
		}
	}
}

// handleMessage processes incoming WebSocket messages
func handleMessage(ctx context.Context, session *services.Session, msg services.WSMessage) error {
	switch msg.Type {
	case services.WSTypeAddItem:
		qty := msg.Qty
		if qty == 0 {
			qty = 1
		}
		_, err := session.AddItem(ctx, msg.Text, qty)
		return err
	case services.WSTypeToggleItem:
		return session.ToggleItem(ctx, msg.ItemID)
	case services.WSTypeDeleteItem:
		return session.DeleteItem(ctx, msg.ItemID)
	case services.WSTypeClearDone:
		return session.ClearDone(ctx)
	case services.WSTypePreview:
		return session.RequestPreview(msg.URL)
	default:
		return errUnknownMessage
	}
}

// writePump writes queued messages and keeps the connection alive with pings
func writePump(conn *websocket.Conn, client *services.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Messages():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
