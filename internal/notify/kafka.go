package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mbd888/sovereign/internal/idgen"
)

// MessageWriter is the subset of *kafka.Writer the channel needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
}

// KafkaChannel publishes messages to a Kafka topic keyed by recipient.
type KafkaChannel struct {
	writer MessageWriter
}

// NewKafkaChannel creates a Kafka provider.
func NewKafkaChannel(w MessageWriter) *KafkaChannel {
	return &KafkaChannel{writer: w}
}

func (k *KafkaChannel) Name() string { return ProviderKafka }

func (k *KafkaChannel) Send(ctx context.Context, msg *Message) (*Delivery, error) {
	id := idgen.New()
	value, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal kafka message: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.To),
		Value: value,
		Headers: []kafka.Header{
			{Key: "message-id", Value: []byte(id)},
			{Key: "priority", Value: []byte(msg.Priority)},
		},
		Time: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("kafka write: %w", err)
	}
	return &Delivery{Sent: true, Provider: ProviderKafka, MessageID: id}, nil
}

// Close flushes and closes the writer.
func (k *KafkaChannel) Close() error {
	return k.writer.Close()
}
