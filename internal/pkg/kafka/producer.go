package kafka

import (
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// NewProducer initializes and returns a new Kafka writer (producer).
// Messages are partitioned by key so events of one session stay ordered.
func NewProducer(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne, // Acknowledge after leader has written.
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("Kafka async write failed", "messages", len(messages), "topic", topic, "error", err)
			}
		},
	}
}
