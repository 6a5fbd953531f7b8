package loom

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToBucketSize(t *testing.T) {
	rl := newRateLimiter(3, time.Hour)
	defer rl.stop()

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("expected request %d to be allowed", i)
		}
	}
	if rl.allow() {
		t.Fatal("expected the 4th request to be rejected")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := newRateLimiter(1, 10*time.Millisecond)
	defer rl.stop()

	if !rl.allow() {
		t.Fatal("expected first request to be allowed")
	}
	if rl.allow() {
		t.Fatal("expected second request to be rejected before refill")
	}

	time.Sleep(50 * time.Millisecond)
	if !rl.allow() {
		t.Fatal("expected a request to be allowed after refill")
	}
}

func TestRateLimitDecoratorRejectsWith429(t *testing.T) {
	dec := RateLimitDecorator[struct{}](1, time.Hour)
	calls := 0
	handler := dec(func(rf *ReadFiber, req *HttpRequest, w *ResponseWriter, s struct{}) {
		calls++
	})

	conn := &Connection{}
	w1 := &ResponseWriter{conn: conn}
	handler(nil, &HttpRequest{}, w1, struct{}{})
	if calls != 1 || w1.status != 0 {
		t.Fatalf("expected first call through, got calls=%d status=%d", calls, w1.status)
	}

	w2 := &ResponseWriter{conn: conn}
	handler(nil, &HttpRequest{}, w2, struct{}{})
	if calls != 1 {
		t.Fatalf("expected second call to be rejected, calls=%d", calls)
	}
	if w2.status != 429 {
		t.Fatalf("got status %d, want 429", w2.status)
	}
}
