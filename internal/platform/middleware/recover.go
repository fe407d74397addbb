package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"wms/pkg/platform/httputil"
	"wms/pkg/requestcontext"
)

// Recover turns a handler panic into a 500 response and an error log entry.
// http.ErrAbortHandler is re-raised so the server can abort the connection.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				ctx := r.Context()
				logger.ErrorContext(ctx, "recovered panic in http handler",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
					"stack", string(debug.Stack()),
				)
				httputil.WriteError(w, errors.New("panic"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
