package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/oxbow-systems/sluice/iox"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(iox.CloseFunc(client))
	return New(client, limit, window), mr
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "acme")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Errorf("admission %d refused within limit", i+1)
		}
	}
}

func TestAllowOverLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.Allow(ctx, "acme"); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}
	ok, err := l.Allow(ctx, "acme")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Error("admission allowed over limit")
	}
}

func TestWindowReset(t *testing.T) {
	l, mr := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if _, err := l.Allow(ctx, "acme"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok, _ := l.Allow(ctx, "acme"); ok {
		t.Fatal("second admission allowed before window reset")
	}

	mr.FastForward(61 * time.Second)

	ok, err := l.Allow(ctx, "acme")
	if err != nil {
		t.Fatalf("Allow after reset: %v", err)
	}
	if !ok {
		t.Error("admission refused after window reset")
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if _, err := l.Allow(ctx, "acme"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	ok, err := l.Allow(ctx, "globex")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !ok {
		t.Error("one tenant's admissions counted against another")
	}
}

func TestRemaining(t *testing.T) {
	l, _ := newTestLimiter(t, 5, time.Minute)
	ctx := context.Background()

	n, err := l.Remaining(ctx, "acme")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if n != 5 {
		t.Errorf("Remaining = %d, want 5", n)
	}

	for i := 0; i < 2; i++ {
		if _, err := l.Allow(ctx, "acme"); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}
	n, err = l.Remaining(ctx, "acme")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if n != 3 {
		t.Errorf("Remaining = %d, want 3", n)
	}
}
