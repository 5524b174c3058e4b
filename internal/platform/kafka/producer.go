// Package kafka wraps franz-go for the audit stream: a producer fed by the
// outbox worker, a consumer group that materializes entries for querying, and
// topic bootstrap on startup.
package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"sitegate/internal/platform/config"
)

// Producer publishes audit payloads to the audit topic. Keys are record IDs so
// one record's history stays in one partition, preserving per-record order.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer connects to the brokers. Returns nil when brokers are not
// configured (in-memory audit mode).
func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.AuditTopic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client, topic: cfg.AuditTopic}, nil
}

// Publish sends one payload synchronously. The outbox worker relies on the
// error to decide whether to mark the row published.
func (p *Producer) Publish(ctx context.Context, key string, payload []byte) error {
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(key),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
