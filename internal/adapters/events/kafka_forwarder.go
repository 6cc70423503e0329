package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/opsledger/treasury-infra/internal/domain"
)

// KafkaForwarder mirrors published events to a Kafka topic for analytics
// consumers that sit outside the Redis deployment. The event type is the
// partition key so per-kind ordering survives the hop.
type KafkaForwarder struct {
	writer *kafka.Writer
}

func NewKafkaForwarder(brokers []string, topic string) (*KafkaForwarder, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka forwarder requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka forwarder requires a topic")
	}
	return &KafkaForwarder{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireOne,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

func (f *KafkaForwarder) Forward(ctx context.Context, event domain.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Type),
		Value: raw,
		Time:  time.Now().UTC(),
	})
}

func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}
