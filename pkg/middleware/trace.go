package middleware

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/tracing"
)

// Trace starts a root span per request, keyed by the request id, and logs
// the span tree of requests slower than slow. It must run inside RequestID.
func Trace(slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if slow <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.StartSpan(r.Context(), r.Method+" "+r.URL.Path, GetRequestID(r.Context()))
			next.ServeHTTP(w, r.WithContext(ctx))
			span.End()
			span.LogIfSlow(logger.FromContext(ctx), slow)
		})
	}
}
