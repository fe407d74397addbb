// Package queue defines the at-least-once transport contract shared by the
// Kafka, Redis Streams and in-memory implementations.
//
// A Handler acknowledges a message by returning nil. Returning an error leaves
// the message unacknowledged so the transport redelivers it later; handlers
// must therefore tolerate duplicates.
package queue

//go:generate mockgen -source=queue.go -destination=mocks/mocks.go -package=mocks Handler,Publisher,Subscriber

import (
	"context"
	"errors"
)

// ErrClosed is returned by publishers and subscribers after Close.
var ErrClosed = errors.New("queue closed")

// Message is one unit carried by a transport.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string

	// Attempt counts deliveries of this message, starting at 1, where the
	// transport can tell. Zero means unknown.
	Attempt int
}

// Header returns a header value or "".
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// SetHeader sets a header, allocating the map on first use.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// Handler processes delivered messages.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Publisher enqueues messages. Publish returns once the transport has durably
// accepted the message or ctx is done.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// Subscriber delivers messages to a handler until ctx is cancelled. It returns
// nil on cancellation and an error when the transport fails irrecoverably.
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
}
