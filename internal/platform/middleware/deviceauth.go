package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	id "sitegate/pkg/domain"
	"sitegate/pkg/requestcontext"
)

// DeviceClaims are the validated claims of a field-device token.
type DeviceClaims struct {
	DeviceID id.DeviceID
	Actor    string
}

// DeviceTokenValidator validates a bearer token issued to a field device.
type DeviceTokenValidator interface {
	ValidateToken(tokenString string) (*DeviceClaims, error)
}

// RequireDevice authenticates field-device requests and injects device ID and
// actor into the context. Every offline-originated write must carry this
// identity so the audit trail can name the device.
func RequireDevice(validator DeviceTokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				writeUnauthorized(w)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "device auth failed",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				writeUnauthorized(w)
				return
			}

			ctx = requestcontext.WithDevice(ctx, claims.DeviceID)
			ctx = requestcontext.WithActor(ctx, claims.Actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Invalid or expired device token"}`))
}
