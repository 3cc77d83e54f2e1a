package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowLimiterEnforcesLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	limiter, err := NewFixedWindowLimiter(client, "test:rl", 3, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !limiter.Allow("1.2.3.4") {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
	}
	if limiter.Allow("1.2.3.4") {
		t.Fatal("fourth request should be limited")
	}
	if !limiter.Allow("5.6.7.8") {
		t.Fatal("other keys must not share the window")
	}
}

func TestFixedWindowLimiterFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter, err := NewFixedWindowLimiter(client, "", 10, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	mr.Close()
	if limiter.Allow("1.2.3.4") {
		t.Fatal("expected limiter to fail closed when redis is down")
	}
}

func TestFixedWindowLimiterRejectsBadConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	if _, err := NewFixedWindowLimiter(nil, "", 1, time.Second); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewFixedWindowLimiter(client, "", 0, time.Second); err == nil {
		t.Fatal("expected error for zero limit")
	}
	if _, err := NewFixedWindowLimiter(client, "", 1, 0); err == nil {
		t.Fatal("expected error for zero window")
	}
}
