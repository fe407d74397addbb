// Package dispatcher is the producer-side facade of the audit pipeline. It
// turns entity mutations into audit events and hands them to the queue
// transport.
//
// Dispatch is best-effort: a transport that is down, slow or full costs at
// most the enqueue timeout and the event is dropped with a warning. Callers
// never see an error, so a business operation cannot fail because of auditing.
// Dropped events are lost; there is no local spool.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	audit "wms/pkg/platform/audit"
	"wms/pkg/platform/circuit"
	"wms/pkg/platform/queue"
	"wms/pkg/requestcontext"
)

const (
	// DefaultTopic is the single destination audit events are published to.
	DefaultTopic = "wms.audit.events"

	defaultEnqueueTimeout = 2 * time.Second
)

// Dispatcher publishes audit events. It is safe for concurrent use.
type Dispatcher struct {
	publisher  queue.Publisher
	topic      string
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *Metrics
	breaker    *circuit.Breaker
	propagator propagation.TextMapPropagator
	tracer     trace.Tracer
	now        func() time.Time

	// async mode
	buffer chan pending
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type pending struct {
	ctx   context.Context
	event audit.Event
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for drop warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTopic overrides DefaultTopic.
func WithTopic(topic string) Option {
	return func(d *Dispatcher) {
		if topic != "" {
			d.topic = topic
		}
	}
}

// WithEnqueueTimeout bounds each publish attempt.
func WithEnqueueTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithAsyncBuffer moves publishing off the caller's goroutine. Events are
// buffered up to size and dropped when the buffer is full.
func WithAsyncBuffer(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.buffer = make(chan pending, size)
		}
	}
}

// WithBreaker short-circuits publishing while the transport keeps failing.
func WithBreaker(b *circuit.Breaker) Option {
	return func(d *Dispatcher) { d.breaker = b }
}

// WithPropagator sets the propagator used to carry trace context in message
// headers. Defaults to the global otel propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.propagator = p
		}
	}
}

// WithClock overrides time.Now for OccurredAt when the context has no
// request time.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates a Dispatcher publishing to publisher.
func New(publisher queue.Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		publisher: publisher,
		topic:     DefaultTopic,
		timeout:   defaultEnqueueTimeout,
		logger:    slog.Default(),
		tracer:    otel.Tracer("wms/audit/dispatcher"),
		now:       time.Now,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.propagator == nil {
		d.propagator = otel.GetTextMapPropagator()
	}
	if d.buffer != nil {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Record audits a mutation performed under ctx. The tenant and actor are read
// from ctx; an absent actor is recorded as audit.ActorSystem. before and after
// are entity states (nil when absent) and are snapshotted immediately.
func (d *Dispatcher) Record(ctx context.Context, action audit.Action, entityName, entityID string, before, after any) {
	beforeRaw, err := audit.Snapshot(before)
	if err != nil {
		d.drop(ctx, ReasonEncode, audit.Event{Action: action, EntityName: entityName, EntityID: entityID}, err)
		return
	}
	afterRaw, err := audit.Snapshot(after)
	if err != nil {
		d.drop(ctx, ReasonEncode, audit.Event{Action: action, EntityName: entityName, EntityID: entityID}, err)
		return
	}

	tenant, _ := requestcontext.TenantID(ctx)
	d.Dispatch(ctx, audit.Event{
		EntityName: entityName,
		EntityID:   entityID,
		Action:     action,
		TenantID:   tenant,
		Actor:      requestcontext.Actor(ctx),
		OccurredAt: d.occurredAt(ctx),
		Before:     beforeRaw,
		After:      afterRaw,
	})
}

// Dispatch publishes a fully specified event. It is the direct producer
// contract for callers that know the tenant, actor and both states, for
// example to record a precise UPDATE diff. Missing actor, timestamp and
// entity ID are defaulted.
func (d *Dispatcher) Dispatch(ctx context.Context, event audit.Event) {
	if event.Actor == "" {
		event.Actor = audit.ActorSystem
	}
	if event.EntityID == "" {
		event.EntityID = audit.UnknownEntityID
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.occurredAt(ctx)
	}
	if err := event.Validate(); err != nil {
		d.drop(ctx, ReasonInvalid, event, err)
		return
	}

	if d.buffer == nil {
		if d.isClosed() {
			d.drop(ctx, ReasonClosed, event, nil)
			return
		}
		d.send(ctx, event)
		return
	}
	d.enqueue(ctx, event)
}

func (d *Dispatcher) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

func (d *Dispatcher) enqueue(ctx context.Context, event audit.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ctx, ReasonClosed, event, nil)
		return
	}
	select {
	case d.buffer <- pending{ctx: detach(ctx), event: event}:
	default:
		d.drop(ctx, ReasonBufferFull, event, nil)
	}
}

// detach keeps request values and the active span but drops cancellation, so
// a buffered event still goes out after the request has returned.
func detach(ctx context.Context) context.Context {
	return trace.ContextWithSpanContext(requestcontext.Detach(ctx), trace.SpanContextFromContext(ctx))
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case p := <-d.buffer:
			d.send(p.ctx, p.event)
		case <-d.done:
			for {
				select {
				case p := <-d.buffer:
					d.send(p.ctx, p.event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, event audit.Event) {
	if d.breaker != nil && !d.breaker.Allow() {
		d.drop(ctx, ReasonCircuitOpen, event, nil)
		return
	}

	ctx, span := d.tracer.Start(ctx, "audit.dispatch",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("audit.entity_name", event.EntityName),
			attribute.String("audit.action", string(event.Action)),
			attribute.String("messaging.destination.name", d.topic),
		),
	)
	defer span.End()

	body, err := audit.Encode(event)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		d.drop(ctx, ReasonEncode, event, err)
		return
	}
	msg := &queue.Message{
		Topic:   d.topic,
		Key:     []byte(audit.MessageKey(event)),
		Value:   body,
		Headers: make(map[string]string),
	}
	d.propagator.Inject(ctx, propagation.MapCarrier(msg.Headers))

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	start := time.Now()
	err = d.publisher.Publish(pubCtx, msg)
	if d.metrics != nil {
		d.metrics.EnqueueTime.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		d.recordFailure()
		d.drop(ctx, ReasonTransport, event, err)
		return
	}

	d.recordSuccess()
	if d.metrics != nil {
		d.metrics.Dispatched.Inc()
	}
}

func (d *Dispatcher) recordFailure() {
	if d.breaker == nil {
		return
	}
	if _, change := d.breaker.RecordFailure(); change.Opened {
		d.logger.Warn("audit transport circuit opened, events will be dropped until it recovers",
			"breaker", d.breaker.Name(),
		)
		if d.metrics != nil {
			d.metrics.SetBreakerOpen(true)
		}
	}
}

func (d *Dispatcher) recordSuccess() {
	if d.breaker == nil {
		return
	}
	if _, change := d.breaker.RecordSuccess(); change.Closed {
		d.logger.Info("audit transport circuit closed", "breaker", d.breaker.Name())
		if d.metrics != nil {
			d.metrics.SetBreakerOpen(false)
		}
	}
}

func (d *Dispatcher) drop(ctx context.Context, reason string, event audit.Event, err error) {
	attrs := []any{
		"reason", reason,
		"action", event.Action,
		"entity_name", event.EntityName,
		"entity_id", event.EntityID,
		"tenant_id", event.TenantID.String(),
	}
	if reqID := requestcontext.RequestID(ctx); reqID != "" {
		attrs = append(attrs, "request_id", reqID)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	d.logger.WarnContext(ctx, "audit event dropped", attrs...)
	if d.metrics != nil {
		d.metrics.IncDropped(reason)
	}
}

func (d *Dispatcher) occurredAt(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestcontext.ContextKeyRequestTime).(time.Time); ok {
		return t.UTC()
	}
	return d.now().UTC()
}

// Close stops accepting events; later calls to Record and Dispatch drop with
// ReasonClosed. In async mode it publishes everything already buffered before
// returning.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.done)
	d.wg.Wait()
}
