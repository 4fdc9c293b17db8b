package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models/events"
)

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes fund events to Kafka as JSON. Each event goes to
// prefix+topic and is keyed by its event ID.
type Publisher struct {
	writer messageWriter
	prefix string
}

// Publish is called while the ledger holds its operation lock, so the
// writer flushes every message at once instead of waiting to fill a batch.
const (
	flushTimeout = 10 * time.Millisecond
	writeTimeout = 2 * time.Second
)

// NewPublisher returns a publisher writing to brokers. Topics are created on
// first use.
func NewPublisher(brokers []string, topicPrefix string) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              1,
		BatchTimeout:           flushTimeout,
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, topicPrefix)
}

func newPublisher(w messageWriter, topicPrefix string) *Publisher {
	return &Publisher{writer: w, prefix: topicPrefix}
}

// Publish encodes event as JSON and writes it to the prefixed topic.
func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}

	msg := kafka.Message{
		Topic: p.prefix + topic,
		Value: data,
	}
	if key := events.Key(event); key != "" {
		msg.Key = []byte(key)
	}
	return p.writer.WriteMessages(ctx, msg)
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
