// Package memory is an in-process queue with at-least-once semantics, used by
// tests and single-binary development setups. Messages do not survive a
// restart.
package memory

import (
	"context"
	"sync"
	"time"

	"wms/pkg/platform/queue"
)

const defaultRedeliveryDelay = 100 * time.Millisecond

// Queue is a bounded channel shared by publishers and competing subscribers.
// A message whose handler fails is put back after the redelivery delay.
type Queue struct {
	topic    string
	messages chan *queue.Message
	delay    time.Duration

	done      chan struct{}
	closeOnce sync.Once
	pending   sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithRedeliveryDelay sets the wait before a failed message is redelivered.
func WithRedeliveryDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d >= 0 {
			q.delay = d
		}
	}
}

// New returns a queue for topic holding at most capacity undelivered messages.
func New(topic string, capacity int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	q := &Queue{
		topic:    topic,
		messages: make(chan *queue.Message, capacity),
		delay:    defaultRedeliveryDelay,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Publish blocks while the queue is full, until ctx is done.
func (q *Queue) Publish(ctx context.Context, msg *queue.Message) error {
	select {
	case <-q.done:
		return queue.ErrClosed
	default:
	}

	m := clone(msg)
	m.Topic = q.topic
	m.Attempt = 0
	select {
	case q.messages <- m:
		return nil
	case <-q.done:
		return queue.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe delivers messages to handler until ctx is done or the queue is
// closed.
func (q *Queue) Subscribe(ctx context.Context, handler queue.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case msg := <-q.messages:
			msg.Attempt++
			if err := handler.Handle(ctx, msg); err != nil {
				q.redeliver(msg)
			}
		}
	}
}

func (q *Queue) redeliver(msg *queue.Message) {
	q.pending.Add(1)
	go func() {
		defer q.pending.Done()
		timer := time.NewTimer(q.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-q.done:
			return
		}
		select {
		case q.messages <- msg:
		case <-q.done:
		}
	}()
}

// Len reports the number of messages waiting for delivery.
func (q *Queue) Len() int {
	return len(q.messages)
}

// Close stops subscribers and discards pending redeliveries.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	q.pending.Wait()
	return nil
}

func clone(msg *queue.Message) *queue.Message {
	m := *msg
	if msg.Headers != nil {
		m.Headers = make(map[string]string, len(msg.Headers))
		for k, v := range msg.Headers {
			m.Headers[k] = v
		}
	}
	return &m
}
