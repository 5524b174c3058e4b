package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"sitegate/internal/platform/config"
)

// EnsureTopics creates the audit topic if it does not exist. Safe to call on
// every startup; an already-existing topic is not an error.
func EnsureTopics(ctx context.Context, cfg config.KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return nil
	}

	client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Brokers...))
	if err != nil {
		return fmt.Errorf("create kafka admin client: %w", err)
	}
	defer client.Close()

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopics(ctx, 3, 1, nil, cfg.AuditTopic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, topicResp := range resp.Sorted() {
		if topicResp.Err != nil && !errors.Is(topicResp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", topicResp.Topic, topicResp.Err)
		}
	}
	return nil
}
