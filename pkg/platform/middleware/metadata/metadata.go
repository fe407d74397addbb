// Package metadata installs request-scoped identity on the context: the tenant
// and actor the caller acts as, the request ID and the client address.
package metadata

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	id "wms/pkg/domain"
	"wms/pkg/platform/httputil"
	"wms/pkg/requestcontext"
)

// Headers read by RequestMetadata.
const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderActor     = "X-Actor"
	HeaderRequestID = "X-Request-ID"
)

const maxActorLength = 128

type contextKeyClientIP struct{}

// RequestMetadata copies tenant, actor and request ID headers onto the request
// context. A missing tenant leaves the request tenantless; a malformed one is
// rejected with 400. A request ID is generated when the caller sends none and
// is echoed back in the response.
func RequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		reqID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx = requestcontext.WithRequestID(ctx, reqID)
		w.Header().Set(HeaderRequestID, reqID)

		if raw := r.Header.Get(HeaderTenantID); raw != "" {
			tenant, err := id.ParseTenantID(raw)
			if err != nil {
				httputil.WriteError(w, httputil.BadRequest(err.Error()))
				return
			}
			ctx = requestcontext.WithTenantID(ctx, tenant)
		}

		if actor := strings.TrimSpace(r.Header.Get(HeaderActor)); actor != "" {
			if len(actor) > maxActorLength {
				httputil.WriteError(w, httputil.BadRequest("actor header too long"))
				return
			}
			ctx = requestcontext.WithActor(ctx, actor)
		}

		ctx = context.WithValue(ctx, contextKeyClientIP{}, ClientIPFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClientIP retrieves the client IP address from the context.
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(contextKeyClientIP{}).(string); ok {
		return ip
	}
	return ""
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For is "client, proxy1, proxy2"; the first entry is the client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if before, _, found := strings.Cut(xff, ","); found {
			return strings.TrimSpace(before)
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port" or "[::1]:port".
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}
