package orchestration

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/cheildo/urbanshadows-lobby/internal/matchmaking"
)

// MessageWriter is the producing half of a Kafka topic.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaTraveler publishes travel requests for the gameplay connection layer.
type KafkaTraveler struct {
	writer     MessageWriter
	playerID   string
	listenAddr string
}

// NewKafkaTraveler returns a traveler for playerID. listenAddr is the address
// this process listens on when it hosts.
func NewKafkaTraveler(writer MessageWriter, playerID, listenAddr string) *KafkaTraveler {
	return &KafkaTraveler{
		writer:     writer,
		playerID:   playerID,
		listenAddr: listenAddr,
	}
}

func (t *KafkaTraveler) TravelAsHost(ctx context.Context, session matchmaking.SessionDescriptor) error {
	return t.publish(ctx, TravelListen, session, t.listenAddr)
}

func (t *KafkaTraveler) TravelAsClient(ctx context.Context, session matchmaking.SessionDescriptor, address string) error {
	return t.publish(ctx, TravelConnect, session, address)
}

func (t *KafkaTraveler) StartGameplay(ctx context.Context, session matchmaking.SessionDescriptor) error {
	return t.publish(ctx, TravelStart, session, t.listenAddr)
}

func (t *KafkaTraveler) StopHosting(ctx context.Context, session matchmaking.SessionDescriptor) error {
	return t.publish(ctx, TravelClose, session, t.listenAddr)
}

func (t *KafkaTraveler) publish(ctx context.Context, kind TravelKind, session matchmaking.SessionDescriptor, address string) error {
	event := TravelEvent{
		EventID:   uuid.NewString(),
		Kind:      kind,
		SessionID: session.ID.String(),
		MapName:   session.MapName,
		Address:   address,
		PlayerID:  t.playerID,
		IssuedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal travel event", "kind", kind, "error", err)
		return err
	}

	// Keyed by session so one session's travel events stay ordered.
	err = t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SessionID),
		Value: payload,
	})
	if err != nil {
		slog.Error("Failed to publish travel event", "kind", kind, "sessionID", event.SessionID, "error", err)
		return err
	}
	slog.Info("Published travel event", "kind", kind, "sessionID", event.SessionID, "address", address)
	return nil
}
