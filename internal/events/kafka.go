package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events to a Kafka topic keyed by appointment id, so
// all events of one appointment land on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		log: log.With().Str("component", "events").Str("topic", topic).Logger(),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.AppointmentID),
		Value: payload,
		Time:  e.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("write event to kafka: %w", err)
	}
	p.log.Debug().Str("type", e.Type).Str("appointment_id", e.AppointmentID).Msg("event published")
	return nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
