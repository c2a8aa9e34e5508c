package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		topic: topic,
	}
}

// Publish keys messages by listing id so one listing's events stay ordered
// within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event ListingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("KafkaPublisher - Publish - json.Marshal: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.ListingID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("KafkaPublisher - Publish - WriteMessages: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("KafkaPublisher - Close: %w", err)
	}
	return nil
}

// NewPublisher returns a Kafka publisher, or a NopPublisher when brokers is
// empty.
func NewPublisher(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}
