package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"sitegate/internal/platform/config"
)

// Message is one consumed record, decoupled from kgo so handlers stay
// broker-agnostic.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Offset    int64
	Partition int32
}

// Handler processes one message. Returning an error leaves the offset
// uncommitted so the message is redelivered; handlers must be idempotent.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// Consumer runs a consumer group over the audit topic.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
}

// NewConsumer joins the configured group. Returns nil when brokers are not
// configured.
func NewConsumer(cfg config.KafkaConfig, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.AuditTopic),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{client: client, handler: handler, logger: logger}, nil
}

// Run polls until ctx is cancelled, committing offsets only after the handler
// succeeds. Handler errors stall the partition rather than skipping entries;
// the audit trail tolerates lag but not holes.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()

	for {
		fetches := c.client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fetchErr := range errs {
				c.logger.ErrorContext(ctx, "kafka fetch error",
					"topic", fetchErr.Topic, "error", fetchErr.Err)
			}
			continue
		}

		var failed bool
		fetches.EachRecord(func(record *kgo.Record) {
			if failed {
				return
			}
			msg := &Message{
				Topic:     record.Topic,
				Key:       record.Key,
				Value:     record.Value,
				Offset:    record.Offset,
				Partition: record.Partition,
			}
			if err := c.handler.Handle(ctx, msg); err != nil {
				c.logger.ErrorContext(ctx, "audit message handling failed",
					"topic", record.Topic, "offset", record.Offset, "error", err)
				failed = true
			}
		})
		if failed {
			continue
		}

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.ErrorContext(ctx, "kafka offset commit failed", "error", err)
		}
	}
}
