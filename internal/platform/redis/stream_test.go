package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"wms/internal/platform/config"
	"wms/pkg/platform/queue"
)

const testStream = "wms.audit.events"

type StreamSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
}

func TestStreamSuite(t *testing.T) {
	suite.Run(t, new(StreamSuite))
}

func (s *StreamSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
}

func (s *StreamSuite) TearDownTest() {
	_ = s.client.Close()
}

func (s *StreamSuite) consumer(name string) *StreamConsumer {
	c, err := NewStreamConsumer(context.Background(), s.client, StreamConsumerConfig{
		Stream:       testStream,
		Group:        "wms-audit-consumer",
		Consumer:     name,
		ClaimMinIdle: 20 * time.Millisecond,
		BlockTimeout: 20 * time.Millisecond,
		Backoff:      10 * time.Millisecond,
	}, nil)
	s.Require().NoError(err)
	return c
}

func (s *StreamSuite) TestPublishAppendsEntry() {
	pub := NewStreamPublisher(s.client, 1000)
	err := pub.Publish(context.Background(), &queue.Message{
		Topic:   testStream,
		Key:     []byte("Produto:42"),
		Value:   []byte(`{"entityName":"Produto"}`),
		Headers: map[string]string{"traceparent": "00-aa-bb-01"},
	})
	s.Require().NoError(err)

	entries, err := s.client.XRange(context.Background(), testStream, "-", "+").Result()
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("Produto:42", entries[0].Values["key"])
	s.Equal("00-aa-bb-01", entries[0].Values["h:traceparent"])
}

func (s *StreamSuite) TestConsumerGroupCreationIsIdempotent() {
	s.consumer("a")
	s.consumer("b")
}

func (s *StreamSuite) TestDeliversAndAcknowledges() {
	pub := NewStreamPublisher(s.client, 0)
	s.Require().NoError(pub.Publish(context.Background(), &queue.Message{Topic: testStream, Key: []byte("k"), Value: []byte("v")}))

	c := s.consumer("a")
	delivered := make(chan *queue.Message, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = c.Subscribe(ctx, queue.HandlerFunc(func(_ context.Context, msg *queue.Message) error {
			delivered <- msg
			return nil
		}))
	}()

	select {
	case msg := <-delivered:
		s.Equal([]byte("v"), msg.Value)
		s.Equal(1, msg.Attempt)
		s.Equal(testStream, msg.Topic)
	case <-time.After(2 * time.Second):
		s.Fail("entry not delivered")
	}

	s.Eventually(func() bool {
		pending, err := s.client.XPending(context.Background(), testStream, "wms-audit-consumer").Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *StreamSuite) TestFailedEntryIsReclaimed() {
	pub := NewStreamPublisher(s.client, 0)
	s.Require().NoError(pub.Publish(context.Background(), &queue.Message{Topic: testStream, Value: []byte("v")}))

	c := s.consumer("a")
	var calls atomic.Int32
	delivered := make(chan int, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = c.Subscribe(ctx, queue.HandlerFunc(func(_ context.Context, msg *queue.Message) error {
			if calls.Add(1) == 1 {
				return errors.New("store down")
			}
			delivered <- msg.Attempt
			return nil
		}))
	}()

	select {
	case attempt := <-delivered:
		s.Equal(2, attempt)
	case <-time.After(3 * time.Second):
		s.Fail("entry not redelivered")
	}
}

func (s *StreamSuite) TestSubscribeReturnsOnCancel() {
	c := s.consumer("a")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Subscribe(ctx, queue.HandlerFunc(func(context.Context, *queue.Message) error { return nil })) }()

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("subscribe did not return")
	}
}

func TestNewClient(t *testing.T) {
	t.Run("empty url disables redis", func(t *testing.T) {
		c, err := New(context.Background(), config.RedisConfig{})
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("connects and pings", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c, err := New(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr() + "/0", PoolSize: 2})
		require.NoError(t, err)
		defer c.Close()
		assert.NoError(t, c.Health(context.Background()))
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := New(context.Background(), config.RedisConfig{URL: "://nope"})
		assert.Error(t, err)
	})
}
