package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, ttl time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewLimiter(rdb, ttl), mr
}

func TestLimiter_AcquireRelease(t *testing.T) {
	l, _ := newTestLimiter(t, 15*time.Second)
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "ep-1")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !ok {
		t.Fatal("Acquire() ok = false, want true for free lease")
	}

	// Same endpoint is now busy
	_, ok2, err := l.Acquire(ctx, "ep-1")
	if err != nil {
		t.Fatalf("Acquire() second error: %v", err)
	}
	if ok2 {
		t.Error("Acquire() ok = true for held lease, want false")
	}

	// A different endpoint is unaffected
	rel2, ok3, err := l.Acquire(ctx, "ep-2")
	if err != nil {
		t.Fatalf("Acquire(ep-2) error: %v", err)
	}
	if !ok3 {
		t.Error("Acquire(ep-2) ok = false, want true")
	}
	_ = rel2(ctx)

	// After release the endpoint is free again
	if err := release(ctx); err != nil {
		t.Fatalf("release() error: %v", err)
	}
	rel3, ok4, err := l.Acquire(ctx, "ep-1")
	if err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
	if !ok4 {
		t.Error("Acquire() after release ok = false, want true")
	}
	_ = rel3(ctx)
}

func TestLimiter_TTLExpiry(t *testing.T) {
	l, mr := newTestLimiter(t, 10*time.Second)
	ctx := context.Background()

	_, ok, err := l.Acquire(ctx, "ep-1")
	if err != nil || !ok {
		t.Fatalf("Acquire() = ok %v, err %v", ok, err)
	}

	// Lease is reclaimable once the TTL passes, even if the holder
	// never released it.
	mr.FastForward(11 * time.Second)

	rel, ok, err := l.Acquire(ctx, "ep-1")
	if err != nil {
		t.Fatalf("Acquire() after expiry error: %v", err)
	}
	if !ok {
		t.Error("Acquire() after expiry ok = false, want true")
	}
	_ = rel(ctx)
}

func TestLimiter_StaleReleaseKeepsNewHolder(t *testing.T) {
	l, mr := newTestLimiter(t, 10*time.Second)
	ctx := context.Background()

	staleRelease, ok, err := l.Acquire(ctx, "ep-1")
	if err != nil || !ok {
		t.Fatalf("Acquire() = ok %v, err %v", ok, err)
	}

	mr.FastForward(11 * time.Second)

	// A second worker takes over after expiry.
	_, ok, err = l.Acquire(ctx, "ep-1")
	if err != nil || !ok {
		t.Fatalf("Acquire() takeover = ok %v, err %v", ok, err)
	}

	// The stale holder's release must not free the new holder's lease.
	if err := staleRelease(ctx); err != nil {
		t.Fatalf("stale release() error: %v", err)
	}
	_, ok, err = l.Acquire(ctx, "ep-1")
	if err != nil {
		t.Fatalf("Acquire() after stale release error: %v", err)
	}
	if ok {
		t.Error("Acquire() succeeded after stale release, lease owner check failed")
	}
}

func TestLeaseKey(t *testing.T) {
	if got, want := leaseKey("abc-123"), "lease:endpoint:abc-123"; got != want {
		t.Errorf("leaseKey() = %q, want %q", got, want)
	}
}
