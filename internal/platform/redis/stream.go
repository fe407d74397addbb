package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"wms/pkg/platform/queue"
)

const (
	fieldKey     = "key"
	fieldValue   = "value"
	headerPrefix = "h:"

	readCount = 16
)

// StreamPublisher appends messages to a Redis stream named after the topic.
type StreamPublisher struct {
	client redis.UniversalClient
	maxLen int64
}

// NewStreamPublisher creates a publisher. A positive maxLen trims the stream
// approximately to that length on every append.
func NewStreamPublisher(client redis.UniversalClient, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, maxLen: maxLen}
}

// Publish appends msg with XADD.
func (p *StreamPublisher) Publish(ctx context.Context, msg *queue.Message) error {
	values := map[string]any{
		fieldKey:   string(msg.Key),
		fieldValue: string(msg.Value),
	}
	for k, v := range msg.Headers {
		values[headerPrefix+k] = v
	}
	args := &redis.XAddArgs{Stream: msg.Topic, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", msg.Topic, err)
	}
	return nil
}

// StreamConsumer is one member of a Redis consumer group. Entries are
// acknowledged with XACK only after the handler succeeds; unacknowledged
// entries are reclaimed with XAUTOCLAIM once idle for ClaimMinIdle, by this
// or any other member.
type StreamConsumer struct {
	client   redis.UniversalClient
	stream   string
	group    string
	name     string
	minIdle  time.Duration
	block    time.Duration
	logger   *slog.Logger
	backoff  time.Duration
	claimCur string
}

// StreamConsumerConfig describes a consumer group member.
type StreamConsumerConfig struct {
	Stream       string
	Group        string
	Consumer     string
	ClaimMinIdle time.Duration
	BlockTimeout time.Duration
	Backoff      time.Duration
}

// NewStreamConsumer creates the consumer group if needed.
func NewStreamConsumer(ctx context.Context, client redis.UniversalClient, cfg StreamConsumerConfig, logger *slog.Logger) (*StreamConsumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.Group, err)
	}
	return &StreamConsumer{
		client:   client,
		stream:   cfg.Stream,
		group:    cfg.Group,
		name:     cfg.Consumer,
		minIdle:  cfg.ClaimMinIdle,
		block:    cfg.BlockTimeout,
		backoff:  cfg.Backoff,
		logger:   logger,
		claimCur: "0-0",
	}, nil
}

// Subscribe reads until ctx is cancelled.
func (c *StreamConsumer) Subscribe(ctx context.Context, handler queue.Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		reclaimed, err := c.reclaim(ctx)
		if err == nil {
			for _, m := range reclaimed {
				c.deliver(ctx, handler, m, c.deliveries(ctx, m.ID))
			}
		}

		fresh, err2 := c.read(ctx)
		if err2 == nil {
			for _, m := range fresh {
				c.deliver(ctx, handler, m, 1)
			}
		}

		if cause := errors.Join(err, err2); cause != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("redis stream read failed", "stream", c.stream, "error", cause)
			if !c.sleep(ctx) {
				return nil
			}
		}
	}
}

func (c *StreamConsumer) reclaim(ctx context.Context) ([]redis.XMessage, error) {
	msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  c.minIdle,
		Start:    c.claimCur,
		Count:    readCount,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	c.claimCur = next
	return msgs, nil
}

func (c *StreamConsumer) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    readCount,
		Block:    c.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// deliveries reports how often an entry has been delivered, or 0 if unknown.
func (c *StreamConsumer) deliveries(ctx context.Context, entryID string) int {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  entryID,
		End:    entryID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return int(pending[0].RetryCount)
}

func (c *StreamConsumer) deliver(ctx context.Context, handler queue.Handler, m redis.XMessage, attempt int) {
	msg := toMessage(c.stream, m, attempt)
	if err := handler.Handle(ctx, msg); err != nil {
		c.logger.Warn("redis stream entry not acknowledged, will be reclaimed",
			"stream", c.stream,
			"entry_id", m.ID,
			"attempt", attempt,
			"error", err,
		)
		return
	}
	if err := c.client.XAck(ctx, c.stream, c.group, m.ID).Err(); err != nil {
		c.logger.Warn("xack failed, entry will be redelivered", "stream", c.stream, "entry_id", m.ID, "error", err)
	}
}

func (c *StreamConsumer) sleep(ctx context.Context) bool {
	d := c.backoff
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func toMessage(stream string, m redis.XMessage, attempt int) *queue.Message {
	msg := &queue.Message{Topic: stream, Attempt: attempt}
	for k, v := range m.Values {
		s, _ := v.(string)
		switch {
		case k == fieldKey:
			msg.Key = []byte(s)
		case k == fieldValue:
			msg.Value = []byte(s)
		case strings.HasPrefix(k, headerPrefix):
			msg.SetHeader(strings.TrimPrefix(k, headerPrefix), s)
		}
	}
	return msg
}
