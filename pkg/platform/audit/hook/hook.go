// Package hook is the generic entity lifecycle interception point. The
// persistence layer calls it after an entity is created, updated or removed,
// and it forwards an audit record to the dispatcher.
//
// The hook never fails the caller: panics and errors raised while capturing
// the change are recovered and logged.
package hook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "wms/pkg/platform/audit"
	"wms/pkg/requestcontext"
)

// Recorder receives captured mutations. *dispatcher.Dispatcher implements it.
type Recorder interface {
	Record(ctx context.Context, action audit.Action, entityName, entityID string, before, after any)
}

// Hook is safe for concurrent use.
type Hook struct {
	recorder Recorder
	logger   *slog.Logger
	failures prometheus.Counter
}

// Option configures a Hook.
type Option func(*Hook)

// WithLogger sets the logger used for capture failures.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hook) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics registers the capture failure counter with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(h *Hook) {
		h.failures = promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "wms_audit_capture_failures_total",
			Help: "Total number of entity mutations the lifecycle hook failed to capture",
		})
	}
}

// New creates a Hook forwarding to recorder.
func New(recorder Recorder, opts ...Option) *Hook {
	h := &Hook{
		recorder: recorder,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnCreate records entity as created: no before state, after is entity.
func (h *Hook) OnCreate(ctx context.Context, entity any) {
	h.capture(ctx, audit.ActionCreate, entity)
}

// OnUpdate records entity as updated. Only the current state is known here,
// so before is absent and the stored content is a full snapshot. Callers that
// hold the previous state should use the dispatcher directly to get a diff.
func (h *Hook) OnUpdate(ctx context.Context, entity any) {
	h.capture(ctx, audit.ActionUpdate, entity)
}

// OnRemove records entity as deleted: before is entity, no after state.
func (h *Hook) OnRemove(ctx context.Context, entity any) {
	h.capture(ctx, audit.ActionDelete, entity)
}

func (h *Hook) capture(ctx context.Context, action audit.Action, entity any) {
	defer func() {
		if r := recover(); r != nil {
			h.fail(ctx, action, entity, fmt.Errorf("panic: %v", r))
		}
	}()

	if entity == nil {
		h.fail(ctx, action, entity, fmt.Errorf("nil entity"))
		return
	}

	var before, after any
	switch action {
	case audit.ActionCreate, audit.ActionUpdate:
		after = entity
	case audit.ActionDelete:
		before = entity
	}
	h.recorder.Record(ctx, action, EntityName(entity), EntityID(entity), before, after)
}

func (h *Hook) fail(ctx context.Context, action audit.Action, entity any, err error) {
	tenant, _ := requestcontext.TenantID(ctx)
	h.logger.ErrorContext(ctx, "audit capture failed",
		"action", action,
		"entity_type", fmt.Sprintf("%T", entity),
		"tenant_id", tenant.String(),
		"error", err,
	)
	if h.failures != nil {
		h.failures.Inc()
	}
}

// EntityID returns the identity an entity reports through audit.Identifiable,
// or audit.UnknownEntityID when it cannot.
func EntityID(entity any) string {
	if ident, ok := entity.(audit.Identifiable); ok {
		if v := strings.TrimSpace(ident.AuditID()); v != "" {
			return v
		}
	}
	return audit.UnknownEntityID
}

// EntityName returns the name an entity reports through audit.Named, or its
// Go type name without package qualifier or pointer marker.
func EntityName(entity any) string {
	if named, ok := entity.(audit.Named); ok {
		if v := strings.TrimSpace(named.AuditName()); v != "" {
			return v
		}
	}
	name := strings.TrimLeft(fmt.Sprintf("%T", entity), "*")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
