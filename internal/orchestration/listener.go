package orchestration

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the consuming half of a Kafka topic.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// MessageProducer is a MessageWriter that owns its connection.
type MessageProducer interface {
	MessageWriter
	Close() error
}

// Listener consumes travel events and tracks the listen servers of lobbies
// that have not started yet. Each new listen server is announced on the
// server-ready topic; it is released when its lobby starts or closes.
type Listener struct {
	consumer       MessageReader
	producer       MessageProducer
	runningServers *atomic.Int64 // Safely count running servers
	servers        sync.Map      // sessionID -> server address
}

func NewListener(consumer MessageReader, producer MessageProducer) *Listener {
	return &Listener{
		consumer:       consumer,
		producer:       producer,
		runningServers: &atomic.Int64{},
	}
}

// Run starts the Kafka consumer loop. It should be run in a goroutine.
func (l *Listener) Run(ctx context.Context) {
	slog.Info("Travel listener started")
	defer l.consumer.Close()
	defer l.producer.Close()

	for {
		msg, err := l.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break // Context cancelled, graceful shutdown.
			}
			slog.Error("Error reading from Kafka", "error", err)
			continue
		}

		var event TravelEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("Failed to unmarshal travel event", "error", err)
			continue
		}
		l.handle(ctx, event)
	}
	slog.Info("Travel listener stopped.")
}

func (l *Listener) handle(ctx context.Context, event TravelEvent) {
	switch event.Kind {
	case TravelListen:
		l.registerListenServer(ctx, event)
	case TravelConnect:
		slog.Info("Client travelling to host", "sessionID", event.SessionID, "playerID", event.PlayerID, "address", event.Address)
	case TravelStart:
		slog.Info("Gameplay started", "sessionID", event.SessionID, "map", event.MapName)
		l.releaseListenServer(event.SessionID)
	case TravelClose:
		slog.Info("Lobby closed by host", "sessionID", event.SessionID)
		l.releaseListenServer(event.SessionID)
	default:
		slog.Warn("Ignoring travel event of unknown kind", "kind", event.Kind, "eventID", event.EventID)
	}
}

func (l *Listener) registerListenServer(ctx context.Context, event TravelEvent) {
	if _, loaded := l.servers.LoadOrStore(event.SessionID, event.Address); loaded {
		slog.Info("Listen server already registered", "sessionID", event.SessionID)
		return
	}
	l.runningServers.Add(1)
	slog.Info("Listen server up", "sessionID", event.SessionID, "address", event.Address, "map", event.MapName)

	ready := GameServerReadyEvent{
		SessionID:  event.SessionID,
		MapName:    event.MapName,
		HostID:     event.PlayerID,
		ServerAddr: event.Address,
	}
	eventBytes, err := json.Marshal(ready)
	if err != nil {
		slog.Error("Failed to marshal game_server_ready event", "error", err)
		return
	}

	err = l.producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SessionID),
		Value: eventBytes,
	})
	if err != nil {
		slog.Error("Failed to publish game_server_ready event", "error", err)
	} else {
		slog.Info("Published game_server_ready event", "sessionID", event.SessionID)
	}
}

func (l *Listener) releaseListenServer(sessionID string) {
	if _, loaded := l.servers.LoadAndDelete(sessionID); !loaded {
		return
	}
	l.runningServers.Add(-1)
	slog.Info("Listen server released", "sessionID", sessionID)
}

// ServerAddr returns the listen address registered for sessionID.
func (l *Listener) ServerAddr(sessionID string) (string, bool) {
	v, ok := l.servers.Load(sessionID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// GetRunningServers provides a thread-safe way to check the count.
func (l *Listener) GetRunningServers() int64 {
	return l.runningServers.Load()
}
