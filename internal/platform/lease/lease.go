// Package lease provides a tiny claim-once primitive: the first caller to
// claim a key within its TTL wins. Scheduled jobs use it so a condition is
// acted on once per day even with several server replicas running.
package lease

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard grants at most one claim per key per TTL window.
type Guard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisGuard implements Guard with SET NX; claims survive restarts and are
// shared across replicas.
type RedisGuard struct {
	client *redis.Client
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, "sitegate:lease:"+key, 1, ttl).Result()
}

// MemoryGuard is the single-process fallback when Redis is not configured.
type MemoryGuard struct {
	mu     sync.Mutex
	claims map[string]time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{claims: make(map[string]time.Time)}
}

func (g *MemoryGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	// Daily job keys never repeat, so expired entries are dead weight.
	for k, expiry := range g.claims {
		if !now.Before(expiry) {
			delete(g.claims, k)
		}
	}
	if expiry, ok := g.claims[key]; ok && now.Before(expiry) {
		return false, nil
	}
	g.claims[key] = now.Add(ttl)
	return true, nil
}
