// Package request provides request ID middleware. Every request gets a UUID
// that flows through logs, audit events, and responses.
package request

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"attestor/pkg/requestcontext"
)

// HeaderRequestID is the header the ID is echoed back on.
const HeaderRequestID = "X-Request-Id"

// Middleware assigns each request a UUID, honoring an incoming X-Request-Id
// from trusted upstream proxies.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return requestcontext.RequestID(ctx)
}
