package health

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// Sink publishes each cycle's verdict to an external consumer.
type Sink interface {
	Publish(ctx context.Context, agg AggregateHealth) error
	Close() error
}

// KafkaSink writes verdicts to a topic keyed by aggregate status.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (s *KafkaSink) Publish(ctx context.Context, agg AggregateHealth) error {
	value, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(agg.Status),
		Value: value,
		Time:  agg.CheckedAt,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
