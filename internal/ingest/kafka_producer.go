package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/itdrive/internal/models"
)

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes trip events keyed by trip id, so every event of a
// trip lands on the same partition and consumers see them in order.
type KafkaProducer struct {
	writer  MessageWriter
	timeout time.Duration
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}}
	return NewKafkaProducerWithWriter(w)
}

func NewKafkaProducerWithWriter(w MessageWriter) *KafkaProducer {
	return &KafkaProducer{writer: w, timeout: 2 * time.Second}
}

// Publish implements dispatch.Sink.
func (k *KafkaProducer) Publish(ctx context.Context, ev models.TripEvent) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka producer: encode: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.TripID, 10)),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka producer: write: %w", err)
	}
	return nil
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// DecodeEvent parses a message produced by Publish.
func DecodeEvent(msg kafka.Message) (models.TripEvent, error) {
	var ev models.TripEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return models.TripEvent{}, fmt.Errorf("decode trip event: %w", err)
	}
	if ev.Type == "" || ev.TripID == 0 {
		return models.TripEvent{}, fmt.Errorf("decode trip event: missing type or trip id")
	}
	return ev, nil
}
