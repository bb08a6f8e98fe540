package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/stockalloc/pkg/logger"
)

// CallerHeader names the internal service that issued a request.
const CallerHeader = "X-Caller-Service"

// RequestLogger stores a request-scoped logger in the context, enriched with
// the correlation id, the calling service and the trace ids. Handlers fetch
// it with logger.FromContext. Mount it after RequestLogging and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if caller := r.Header.Get(CallerHeader); caller != "" {
				ctx = logger.WithCaller(ctx, caller)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
