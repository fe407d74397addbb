// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values: the active tenant, the acting user, the request ID and
// the request clock.
//
// The tenant is an explicit context value, never a goroutine-local slot. Code
// that hands work to another goroutine (async dispatch, queue consumers) must
// capture what it needs with Detach or re-install it with WithTenantID on the
// new context.
//
// Usage in services (read values):
//
//	tenant, ok := requestcontext.TenantID(ctx)
//	actor := requestcontext.Actor(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware and consumers (set values):
//
//	ctx = requestcontext.WithTenantID(ctx, tenant)
//	ctx = requestcontext.WithActor(ctx, "alice")
//
// Clearing the tenant for a unit of work:
//
//	ctx = requestcontext.WithoutTenant(ctx)
package requestcontext

import (
	"context"
	"time"

	id "wms/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	tenantIDKey    struct{}
	actorKey       struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyTenantID    = tenantIDKey{}
	ContextKeyActor       = actorKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Tenant context
// -----------------------------------------------------------------------------

// TenantID returns the tenant active for ctx. The second value is false when no
// tenant is set or when it was cleared with WithoutTenant.
func TenantID(ctx context.Context) (id.TenantID, bool) {
	tenant, ok := ctx.Value(ContextKeyTenantID).(id.TenantID)
	if !ok || tenant.IsZero() {
		return "", false
	}
	return tenant, true
}

// WithTenantID installs tenant as the active tenant. Installing the zero value
// is equivalent to WithoutTenant.
func WithTenantID(ctx context.Context, tenant id.TenantID) context.Context {
	return context.WithValue(ctx, ContextKeyTenantID, tenant)
}

// WithoutTenant masks any tenant inherited from a parent context.
func WithoutTenant(ctx context.Context) context.Context {
	if _, ok := TenantID(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, ContextKeyTenantID, id.TenantID(""))
}

// -----------------------------------------------------------------------------
// Actor
// -----------------------------------------------------------------------------

// Actor returns the acting user, or "" for unauthenticated or system work.
func Actor(ctx context.Context) string {
	if actor, ok := ctx.Value(ContextKeyActor).(string); ok {
		return actor
	}
	return ""
}

// WithActor injects the acting user.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, consumers, jobs).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}

// -----------------------------------------------------------------------------
// Handoff
// -----------------------------------------------------------------------------

// Detach copies tenant, actor, request ID and request time onto a fresh
// background context. Use it when work outlives the caller's cancellation, for
// example a buffered audit dispatch.
func Detach(ctx context.Context) context.Context {
	out := context.Background()
	if tenant, ok := TenantID(ctx); ok {
		out = WithTenantID(out, tenant)
	}
	if actor := Actor(ctx); actor != "" {
		out = WithActor(out, actor)
	}
	if reqID := RequestID(ctx); reqID != "" {
		out = WithRequestID(out, reqID)
	}
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		out = WithTime(out, t)
	}
	return out
}
