package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only when the caller still owns it, so
// a worker whose lease expired mid-attempt cannot free a successor's.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Limiter caps delivery concurrency at one in-flight attempt per
// endpoint across all workers. Acquire takes a short-TTL lock keyed by
// endpoint id; the TTL bounds how long a crashed worker can starve an
// endpoint.
type Limiter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLimiter(rdb *redis.Client, ttl time.Duration) *Limiter {
	return &Limiter{rdb: rdb, ttl: ttl}
}

func leaseKey(endpointID string) string {
	return fmt.Sprintf("lease:endpoint:%s", endpointID)
}

// Acquire attempts to take the endpoint's lease. ok=false means another
// worker holds it and the caller should requeue rather than wait. The
// returned release frees the lease for this holder only.
func (l *Limiter) Acquire(ctx context.Context, endpointID string) (release func(context.Context) error, ok bool, err error) {
	key := leaseKey(endpointID)
	token := uuid.NewString()

	set, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		if err := l.rdb.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("redis release failed: %w", err)
		}
		return nil
	}
	return release, true, nil
}
