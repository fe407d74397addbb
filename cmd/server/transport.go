package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"wms/internal/platform/config"
	"wms/internal/platform/kafka"
	"wms/internal/platform/redis"
	"wms/pkg/platform/audit/consumer"
	"wms/pkg/platform/queue"
	queuememory "wms/pkg/platform/queue/memory"
)

const memoryQueueCapacity = 4096

// transport bundles the producer and consumer sides of the selected queue.
type transport struct {
	publisher   queue.Publisher
	subscribers consumer.SubscriberFactory
	health      func(ctx context.Context) error

	mu      sync.Mutex
	closers []func() error
}

func (t *transport) onClose(fn func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closers = append(t.closers, fn)
}

// close runs closers in reverse registration order.
func (t *transport) close(log *slog.Logger) {
	t.mu.Lock()
	closers := t.closers
	t.closers = nil
	t.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.Warn("failed to close audit transport", "error", err)
		}
	}
}

func newTransport(ctx context.Context, cfg *config.Config, log *slog.Logger) (*transport, error) {
	switch cfg.Audit.Transport {
	case config.TransportKafka:
		return newKafkaTransport(ctx, cfg, log)
	case config.TransportRedis:
		return newRedisTransport(ctx, cfg, log)
	default:
		log.Warn("audit events travel through an in-process queue and are lost on restart")
		q := queuememory.New(cfg.Audit.Topic, memoryQueueCapacity, queuememory.WithRedeliveryDelay(cfg.Audit.Consumer.Backoff))
		t := &transport{
			publisher:   q,
			subscribers: func(int) (queue.Subscriber, error) { return q, nil },
		}
		t.onClose(q.Close)
		return t, nil
	}
}

func newKafkaTransport(ctx context.Context, cfg *config.Config, log *slog.Logger) (*transport, error) {
	if cfg.Kafka.AutoCreateTopic {
		if err := kafka.EnsureTopic(ctx, cfg.Kafka, cfg.Audit.Topic); err != nil {
			return nil, err
		}
	}
	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return nil, err
	}
	t := &transport{publisher: producer, health: producer.Ping}
	t.onClose(producer.Close)
	t.subscribers = func(int) (queue.Subscriber, error) {
		c, err := kafka.NewConsumer(cfg.Kafka, cfg.Audit.Consumer.Group, cfg.Audit.Topic,
			kafka.WithLogger(log),
			kafka.WithBackoff(cfg.Audit.Consumer.Backoff),
		)
		if err != nil {
			return nil, err
		}
		t.onClose(c.Close)
		return c, nil
	}
	return t, nil
}

func newRedisTransport(ctx context.Context, cfg *config.Config, log *slog.Logger) (*transport, error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	t := &transport{
		publisher: redis.NewStreamPublisher(client, cfg.Audit.Stream.MaxLen),
		health:    client.Health,
	}
	t.onClose(client.Close)

	host, _ := os.Hostname()
	t.subscribers = func(worker int) (queue.Subscriber, error) {
		return redis.NewStreamConsumer(ctx, client, redis.StreamConsumerConfig{
			Stream:       cfg.Audit.Topic,
			Group:        cfg.Audit.Consumer.Group,
			Consumer:     fmt.Sprintf("%s-%d-%d", host, os.Getpid(), worker),
			ClaimMinIdle: cfg.Audit.Stream.ClaimMinIdle,
			BlockTimeout: cfg.Audit.Stream.BlockTimeout,
			Backoff:      cfg.Audit.Consumer.Backoff,
		}, log)
	}
	return t, nil
}
