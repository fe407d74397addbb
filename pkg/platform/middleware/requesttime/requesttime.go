// Package requesttime pins a single "now" for each HTTP request so every audit
// event emitted while serving it carries the same occurrence time.
package requesttime

import (
	"net/http"
	"time"

	"wms/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request and stores
// it in the context.
func Middleware(next http.Handler) http.Handler {
	return Clock(time.Now)(next)
}

// Clock is Middleware with an injectable time source.
func Clock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
