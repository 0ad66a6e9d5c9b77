package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewConsumer initializes and returns a new Kafka reader (consumer).
// Consumers sharing groupID split the topic; a group of its own sees every
// event. New groups start at the newest offset.
func NewConsumer(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		StartOffset:    kafka.LastOffset,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
	})
}
