package apigateway

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cheildo/urbanshadows-lobby/internal/lobby"
)

// Push message types sent to presentation clients.
const (
	MessageLobbyUpdate = "LOBBY_UPDATE"
	MessageServerReady = "SERVER_READY"
)

// Message is the envelope of every push frame.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// sendBuffer bounds the frames queued for one slow client.
const sendBuffer = 16

type client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// queue drops frame when the client is gone or its buffer is full.
func (c *client) queue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub safely stores active WebSocket connections and fans lobby updates out
// to them. It is a lobby.Observer.
type Hub struct {
	connections sync.Map // A thread-safe map: map[clientID]*client
}

func NewHub() *Hub {
	return &Hub{}
}

// add registers conn and returns the client whose queue its writer drains.
func (h *Hub) add(clientID string, conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.connections.Store(clientID, c)
	return c
}

func (h *Hub) Remove(clientID string) {
	if c, ok := h.connections.LoadAndDelete(clientID); ok {
		c.(*client).close()
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	n := 0
	h.connections.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// LobbyUpdated runs on the lobby loop, so it only queues frames.
func (h *Hub) LobbyUpdated(u lobby.Update) {
	h.Broadcast(Message{Type: MessageLobbyUpdate, Payload: u})
}

// Broadcast queues msg for every client. Clients whose queue is full miss
// the frame; the next LOBBY_UPDATE carries the full view again.
func (h *Hub) Broadcast(msg Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal push message", "type", msg.Type, "error", err)
		return
	}
	h.connections.Range(func(key, value any) bool {
		h.enqueue(key.(string), value.(*client), frame)
		return true
	})
}

// sendTo queues msg for a single client.
func (h *Hub) sendTo(clientID string, msg Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal push message", "type", msg.Type, "error", err)
		return
	}
	if c, ok := h.connections.Load(clientID); ok {
		h.enqueue(clientID, c.(*client), frame)
	}
}

func (h *Hub) enqueue(clientID string, c *client, frame []byte) {
	if !c.queue(frame) {
		slog.Warn("Dropped push frame", "clientID", clientID)
	}
}
