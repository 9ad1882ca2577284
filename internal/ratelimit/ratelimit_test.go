package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 5})

	for i := 0; i < 5; i++ {
		if err := l.Allow("client"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := l.Allow("client"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("request past burst = %v, want ErrRateLimited", err)
	}
}

func TestUnlimitedWhenZero(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 1000; i++ {
		if err := l.Allow("anyone"); err != nil {
			t.Fatalf("unlimited limiter rejected request %d: %v", i, err)
		}
	}
}

func TestClientsIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 2})

	if err := l.Allow("a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("client a: %v, want ErrRateLimited", err)
	}

	// Exhausting a must not touch b.
	if err := l.Allow("b"); err != nil {
		t.Errorf("client b rejected after a was limited: %v", err)
	}
}

func TestBurstDefaultsToRate(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("c"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := l.Allow("c"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("request past default burst = %v, want ErrRateLimited", err)
	}
}

func TestRefill(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("c"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("c"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second immediate request = %v, want ErrRateLimited", err)
	}

	// Backdate the bucket instead of sleeping: two seconds of refill at
	// 1 token/s restores the (capped) single token.
	l.mu.Lock()
	l.buckets["c"].lastFill = l.buckets["c"].lastFill.Add(-2 * time.Second)
	l.mu.Unlock()

	if err := l.Allow("c"); err != nil {
		t.Errorf("request after refill window = %v, want nil", err)
	}
}
