package apigateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/cheildo/urbanshadows-lobby/internal/orchestration"
)

// MessageReader is the consuming half of a Kafka topic.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ServerReadyConsumer relays game_server_ready events for the local
// player's session to presentation clients.
type ServerReadyConsumer struct {
	reader MessageReader
	hub    *Hub
	lobby  Lobby
}

func NewServerReadyConsumer(reader MessageReader, hub *Hub, l Lobby) *ServerReadyConsumer {
	return &ServerReadyConsumer{
		reader: reader,
		hub:    hub,
		lobby:  l,
	}
}

// Run starts the consumer loop. It should be run in a goroutine.
func (sc *ServerReadyConsumer) Run(ctx context.Context) {
	slog.Info("Kafka consumer loop started")
	for {
		// The ReadMessage call blocks until a message is available or an error occurs.
		msg, err := sc.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Kafka consumer context cancelled. Shutting down.")
				break
			}
			slog.Error("Error reading from Kafka", "error", err)
			continue
		}

		var event orchestration.GameServerReadyEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("Failed to unmarshal Kafka message", "error", err)
			continue
		}

		// Every agent reads the topic; only our own session is relevant.
		own := sc.lobby.Snapshot().Session
		if own == nil || own.ID.String() != event.SessionID {
			slog.Debug("Ignoring game_server_ready for another session", "sessionID", event.SessionID)
			continue
		}

		sc.hub.Broadcast(Message{Type: MessageServerReady, Payload: event})
		slog.Info("Relayed SERVER_READY notification", "sessionID", event.SessionID, "serverAddr", event.ServerAddr)
	}
	sc.reader.Close()
	slog.Info("Kafka consumer stopped.")
}
