package ratelimit

import (
	"testing"
	"time"
)

func TestAllow_WithinBurst(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("client-a") {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if l.Allow("client-a") {
		t.Error("request beyond burst should be denied")
	}
}

func TestAllow_IndependentClients(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 2, CleanupInterval: time.Minute})
	defer l.Stop()

	for i := 0; i < 2; i++ {
		l.Allow("client-a")
	}
	if l.Allow("client-a") {
		t.Error("client-a should be exhausted")
	}
	if !l.Allow("client-b") {
		t.Error("client-b should be unaffected by client-a")
	}
}

func TestAllow_RefillsOverTime(t *testing.T) {
	// 6000 rpm = 100 tokens/sec, so a short sleep refills a token.
	l := New(Config{RequestsPerMinute: 6000, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow("client") {
		t.Fatal("first request should pass")
	}
	if l.Allow("client") {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(30 * time.Millisecond)
	if !l.Allow("client") {
		t.Error("bucket should have refilled")
	}
}
