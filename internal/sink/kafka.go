package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/ppiankov/sentinel/internal/model"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a Kafka topic keyed by tool call id, so
// every event of one call lands on the same partition.
type KafkaSink struct {
	name   string
	writer kafkaWriter
}

// NewKafkaSink creates a sink for topic on brokers.
func NewKafkaSink(name string, brokers []string, topic string) (*KafkaSink, error) {
	trimmed := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			trimmed = append(trimmed, b)
		}
	}
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(trimmed...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaSink{name: name, writer: w}, nil
}

func (k *KafkaSink) Name() string { return k.name }

func (k *KafkaSink) Write(ctx context.Context, ev model.Event) error {
	if k == nil || k.writer == nil {
		return fmt.Errorf("kafka sink not initialized")
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return Permanent(fmt.Errorf("marshal event: %w", err))
	}
	key := ev.ToolCallID
	if key == "" {
		key = ev.Type
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	})
}

func (k *KafkaSink) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
