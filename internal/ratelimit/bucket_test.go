package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/torbobase/torbo-base/internal/ratelimit"
)

func TestInMemory_AllowsUpToCapacity(t *testing.T) {
	lim := ratelimit.NewInMemory(60, time.Minute)

	accepted := 0
	for i := 0; i < 60; i++ {
		if ok, _ := lim.Allow("1.2.3.4"); ok {
			accepted++
		}
	}
	if accepted != 60 {
		t.Fatalf("expected 60 accepted requests to exhaust the burst capacity, got %d", accepted)
	}

	ok, retryAfter := lim.Allow("1.2.3.4")
	if ok {
		t.Fatal("expected the 61st request in the same instant to be rejected")
	}
	if retryAfter <= 0 {
		t.Fatal("expected a positive Retry-After")
	}
}

func TestInMemory_IndependentPerKey(t *testing.T) {
	lim := ratelimit.NewInMemory(1, time.Minute)

	if ok, _ := lim.Allow("a"); !ok {
		t.Fatal("expected first request from key a to be allowed")
	}
	if ok, _ := lim.Allow("b"); !ok {
		t.Fatal("expected first request from key b to be allowed independently of key a")
	}
}

func TestInMemory_Evict(t *testing.T) {
	lim := ratelimit.NewInMemory(10, time.Millisecond)
	lim.Allow("stale")
	time.Sleep(5 * time.Millisecond)
	lim.Evict()
	// No direct way to inspect internal map size; Evict should not panic and
	// a fresh bucket should be created for the same key afterward.
	if ok, _ := lim.Allow("stale"); !ok {
		t.Fatal("expected a fresh bucket to be created for the evicted key")
	}
}

func TestInMemory_StartEvictorRunsUntilCancelled(t *testing.T) {
	lim := ratelimit.NewInMemory(10, 5*time.Millisecond)
	lim.Allow("stale")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		lim.StartEvictor(ctx)
		close(done)
	}()

	// Give the ticker time to fire at least once and evict the stale bucket.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected StartEvictor to return after ctx cancellation")
	}
}
