package apigateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// upgrader is used to upgrade an HTTP connection to a persistent WebSocket connection.
var upgrader = websocket.Upgrader{
	// The agent binds to the player's machine; the UI may be served from anywhere.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebsocketHandler streams lobby pushes to presentation clients.
type WebsocketHandler struct {
	hub   *Hub
	lobby Lobby
}

func NewWebsocketHandler(hub *Hub, l Lobby) *WebsocketHandler {
	return &WebsocketHandler{hub: hub, lobby: l}
}

// ServeHTTP upgrades the connection, sends the current lobby view and then
// relays every push until the client goes away.
func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	clientID := uuid.NewString()
	slog.Info("WebSocket connection established", "clientID", clientID)

	c := h.hub.add(clientID, conn)
	h.hub.sendTo(clientID, Message{Type: MessageLobbyUpdate, Payload: h.lobby.Snapshot()})

	go h.writePump(c, clientID)
	h.readPump(conn, clientID)
}

// readPump runs for the lifetime of the connection. Clients do not send
// commands over the socket; reading detects closure and services pongs.
func (h *WebsocketHandler) readPump(conn *websocket.Conn, clientID string) {
	defer func() {
		slog.Info("Closing WebSocket connection", "clientID", clientID)
		h.hub.Remove(clientID)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket connection closed unexpectedly", "clientID", clientID, "error", err)
			}
			break
		}
	}
}

// writePump is the only writer on conn.
func (h *WebsocketHandler) writePump(c *client, clientID string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Warn("Failed to write push frame", "clientID", clientID, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
