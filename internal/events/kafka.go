package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ridepool/carpool/internal/models"
)

const publishTimeout = 2 * time.Second

// KafkaPublisher writes events as JSON keyed by ride id, so every event for a
// ride lands on the same partition in commit order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Publish(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := Messages(events)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Messages encodes events into Kafka messages.
func Messages(events []models.Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(strconv.FormatUint(e.RideID, 10)),
			Value:   b,
			Headers: []kafka.Header{{Key: "type", Value: []byte(e.Type)}},
		})
	}
	return msgs, nil
}

// Decode parses a message written by KafkaPublisher.
func Decode(m kafka.Message) (models.Event, error) {
	var e models.Event
	if err := json.Unmarshal(m.Value, &e); err != nil {
		return e, fmt.Errorf("decode event at offset %d: %w", m.Offset, err)
	}
	return e, nil
}
