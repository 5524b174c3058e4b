// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them, services read them, and tests
// inject them without running the middleware chain.
//
// Usage in services (read values):
//
//	actor := requestcontext.Actor(ctx)
//	deviceID := requestcontext.Device(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithActor(ctx, actor)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "sitegate/pkg/domain"
)

type (
	actorKey       struct{}
	deviceIDKey    struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
	clientIPKey    struct{}
)

// Actor retrieves the acting user (field worker or admin) from the context.
func Actor(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok {
		return actor
	}
	return ""
}

// WithActor injects the acting user into the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Device retrieves the authenticated field device ID from the context.
// Returns the nil ID for server-originated work (schedulers, sweeps).
func Device(ctx context.Context) id.DeviceID {
	if deviceID, ok := ctx.Value(deviceIDKey{}).(id.DeviceID); ok {
		return deviceID
	}
	return id.DeviceID{}
}

// WithDevice injects a device ID into the context.
func WithDevice(ctx context.Context, deviceID id.DeviceID) context.Context {
	return context.WithValue(ctx, deviceIDKey{}, deviceID)
}

// RequestID retrieves the correlation ID from the context.
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID injects a correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now returns the request-scoped time when set, otherwise the wall clock.
// Services read operation time through this so tests can pin the clock.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a fixed time into the context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}

// ClientIP retrieves the caller's IP from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

// WithClientIP injects the caller's IP into the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}
