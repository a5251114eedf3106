// Package events publishes environment status transitions to Kafka so
// downstream consumers (billing, audit, the persistent store owner) observe
// lifecycle changes without polling the control plane.
package events

import (
	"context"
	"encoding/json"
	"time"

	"sandboxd/internal/controlplane/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes status events to one topic. A nil *Publisher is valid
// and drops every event, so deployments without Kafka need no branching at
// call sites.
type Publisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewPublisher builds a publisher, or returns nil when no brokers are
// configured.
func NewPublisher(brokers []string, topic string, log *zap.Logger) *Publisher {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: writer, log: log}
}

// PublishStatus emits one status event. Delivery is advisory: a broker
// failure is logged and never blocks the lifecycle operation that caused
// the event.
func (p *Publisher) PublishStatus(ctx context.Context, event model.StatusEvent) {
	if p == nil {
		return
	}
	value, err := json.Marshal(event)
	if err != nil {
		p.log.Error("marshal status event", zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(event.EnvironmentID),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("publish status event failed",
			zap.String("environment_id", event.EnvironmentID),
			zap.String("status", string(event.Status)),
			zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
