package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"wms/internal/platform/config"
	"wms/pkg/platform/queue"
)

// Consumer is one member of a consumer group reading a single topic.
// Records of a partition are handled in order. When a handler fails, the
// partition is rewound to the failed record and retried after the backoff;
// later records of that partition wait behind it.
type Consumer struct {
	client   *kgo.Client
	logger   *slog.Logger
	backoff  time.Duration
	attempts *attempts
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithLogger sets the consumer logger.
func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBackoff sets the pause after a failed record.
func WithBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// NewConsumer joins group on topic. Nothing is fetched until Subscribe.
func NewConsumer(cfg config.KafkaConfig, group, topic string, opts ...ConsumerOption) (*Consumer, error) {
	c := &Consumer{
		logger:   slog.Default(),
		backoff:  time.Second,
		attempts: newAttempts(),
	}
	for _, opt := range opts {
		opt(c)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.AutoCommitMarks(),
		kgo.BlockRebalanceOnPoll(),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, _ map[string][]int32) {
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				c.logger.Warn("commit on revoke failed", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	c.client = client
	return c, nil
}

// Subscribe polls until ctx is cancelled or the client is closed.
func (c *Consumer) Subscribe(ctx context.Context, handler queue.Handler) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			c.client.AllowRebalance()
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Warn("kafka fetch error", "topic", topic, "partition", partition, "error", err)
		})

		failed := false
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if !c.handlePartition(ctx, handler, p) {
				failed = true
			}
		})
		c.client.AllowRebalance()

		if failed {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
		}
	}
}

// handlePartition processes records in order and stops at the first failure.
func (c *Consumer) handlePartition(ctx context.Context, handler queue.Handler, p kgo.FetchTopicPartition) bool {
	for _, rec := range p.Records {
		msg := toMessage(rec, c.attempts.next(rec))
		if err := handler.Handle(ctx, msg); err != nil {
			c.logger.Warn("kafka record not acknowledged, will be redelivered",
				"topic", rec.Topic,
				"partition", rec.Partition,
				"offset", rec.Offset,
				"attempt", msg.Attempt,
				"error", err,
			)
			c.rewind(rec)
			return false
		}
		c.attempts.done(rec)
		c.client.MarkCommitRecords(rec)
	}
	return true
}

func (c *Consumer) rewind(rec *kgo.Record) {
	c.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		rec.Topic: {rec.Partition: {Epoch: rec.LeaderEpoch, Offset: rec.Offset}},
	})
}

// Close commits acknowledged offsets and leaves the group.
func (c *Consumer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.client.CommitMarkedOffsets(ctx)
	c.client.Close()
	if err != nil {
		return fmt.Errorf("commit kafka offsets: %w", err)
	}
	return nil
}
