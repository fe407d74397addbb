// Package consumer turns delivered audit messages into stored entries.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	audit "wms/pkg/platform/audit"
	"wms/pkg/platform/queue"
	"wms/pkg/requestcontext"
)

// EntryHandler persists audit events. Returning nil acknowledges the message;
// an error leaves it for redelivery.
type EntryHandler struct {
	store      audit.Store
	logger     *slog.Logger
	metrics    *Metrics
	propagator propagation.TextMapPropagator
	tracer     trace.Tracer
	now        func() time.Time
}

// HandlerOption configures an EntryHandler.
type HandlerOption func(*EntryHandler)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *EntryHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *EntryHandler) { h.metrics = m }
}

// WithPropagator sets the propagator used to continue the producer's trace.
func WithPropagator(p propagation.TextMapPropagator) HandlerOption {
	return func(h *EntryHandler) {
		if p != nil {
			h.propagator = p
		}
	}
}

// NewEntryHandler creates a handler saving to store.
func NewEntryHandler(store audit.Store, opts ...HandlerOption) *EntryHandler {
	h := &EntryHandler{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer("wms/audit/consumer"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.propagator == nil {
		h.propagator = otel.GetTextMapPropagator()
	}
	return h
}

// Handle decodes one message and saves it under the event's own tenant. The
// tenant of the delivery context is never used: the store sees exactly the
// tenant carried by the event, or none.
//
// Malformed messages are logged and acknowledged, since redelivery cannot fix
// them.
func (h *EntryHandler) Handle(ctx context.Context, msg *queue.Message) error {
	ctx = h.propagator.Extract(ctx, propagation.MapCarrier(msg.Headers))
	ctx, span := h.tracer.Start(ctx, "audit.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.delivery.attempt", msg.Attempt),
		),
	)
	defer span.End()

	event, err := audit.Decode(msg.Value)
	if err == nil {
		err = event.Validate()
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "discarding malformed audit message",
			"topic", msg.Topic,
			"key", string(msg.Key),
			"error", err,
		)
		h.observe(OutcomeMalformed)
		return nil
	}

	entry, err := audit.NewEntry(event)
	if err != nil {
		h.logger.ErrorContext(ctx, "discarding malformed audit message",
			"topic", msg.Topic,
			"key", string(msg.Key),
			"error", err,
		)
		h.observe(OutcomeMalformed)
		return nil
	}

	scoped := tenantScope(ctx, event)
	start := h.now()
	entryID, err := h.store.Save(scoped, entry)
	if h.metrics != nil {
		h.metrics.SaveLatency.Observe(h.now().Sub(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		h.logger.ErrorContext(ctx, "failed to persist audit entry",
			"action", event.Action,
			"entity_name", event.EntityName,
			"entity_id", event.EntityID,
			"tenant_id", event.TenantID.String(),
			"attempt", msg.Attempt,
			"error", err,
		)
		h.observe(OutcomeFailed)
		return fmt.Errorf("save audit entry: %w", err)
	}

	h.observe(OutcomePersisted)
	if h.metrics != nil {
		h.metrics.Lag.Observe(h.now().Sub(event.OccurredAt).Seconds())
	}
	h.logger.DebugContext(ctx, "persisted audit entry",
		"entry_id", entryID,
		"action", event.Action,
		"entity_name", event.EntityName,
		"entity_id", event.EntityID,
		"tenant_id", event.TenantID.String(),
	)
	return nil
}

// tenantScope derives the context the store sees. It masks any tenant already
// present on ctx and sets the event's. The scope ends with the returned
// context, so nothing leaks to the next message.
func tenantScope(ctx context.Context, event audit.Event) context.Context {
	scoped := requestcontext.WithoutTenant(ctx)
	if !event.TenantID.IsZero() {
		scoped = requestcontext.WithTenantID(scoped, event.TenantID)
	}
	return requestcontext.WithActor(scoped, event.Actor)
}

func (h *EntryHandler) observe(outcome string) {
	if h.metrics != nil {
		h.metrics.Processed.WithLabelValues(outcome).Inc()
	}
}
