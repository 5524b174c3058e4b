package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"sitegate/pkg/requestcontext"
)

// RequireAdminToken guards the administrative surface (project lifecycle,
// operator queues) with a shared token header.
func RequireAdminToken(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Admin-Token")
			if token == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				logger.WarnContext(r.Context(), "admin request rejected",
					"request_id", requestcontext.RequestID(r.Context()),
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
