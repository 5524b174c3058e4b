// Package middleware provides the HTTP middleware chain: request metadata,
// admin token guard, and field-device bearer auth.
package middleware

import (
	"net"
	"net/http"

	"github.com/google/uuid"

	"sitegate/pkg/requestcontext"
)

// RequestMeta stamps every request with a correlation ID, the request time and
// the client IP. Services read these through pkg/requestcontext.
func RequestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx = requestcontext.WithRequestID(ctx, requestID)

		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ctx = requestcontext.WithClientIP(ctx, ip)
		}

		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
