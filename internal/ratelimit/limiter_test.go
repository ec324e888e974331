package ratelimit

import (
	"net"
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(Config{QPS: 10, Burst: 3})
	ip := net.ParseIP("203.0.113.5")

	for i := 0; i < 3; i++ {
		if !l.Allow(ip, "example.com.", 1) {
			t.Fatalf("query %d should be allowed within burst", i)
		}
	}
}

func TestDeniesBeyondBurst(t *testing.T) {
	l := New(Config{QPS: 1, Burst: 2})
	ip := net.ParseIP("203.0.113.5")

	l.Allow(ip, "example.com.", 1)
	l.Allow(ip, "example.com.", 1)

	if l.Allow(ip, "example.com.", 1) {
		t.Fatal("third rapid query should have been denied")
	}
}

func TestDifferentClientsHaveSeparateBuckets(t *testing.T) {
	l := New(Config{QPS: 1, Burst: 1})
	a := net.ParseIP("203.0.113.5")
	b := net.ParseIP("198.51.100.9")

	if !l.Allow(a, "example.com.", 1) {
		t.Fatal("first client's first query should be allowed")
	}
	if !l.Allow(b, "example.com.", 1) {
		t.Fatal("second client's first query should be allowed despite sharing no bucket with the first")
	}
}

func TestSweepRemovesIdleBuckets(t *testing.T) {
	l := New(Config{QPS: 10, Burst: 10, MaxIdle: time.Millisecond})
	l.Allow(net.ParseIP("203.0.113.5"), "example.com.", 1)

	time.Sleep(5 * time.Millisecond)
	removed := l.Sweep()
	if removed != 1 {
		t.Fatalf("Sweep removed %d buckets, want 1", removed)
	}
	if l.GetStats().Buckets != 0 {
		t.Fatalf("Buckets = %d, want 0 after sweep", l.GetStats().Buckets)
	}
}

func TestSameClientDifferentQnamesHaveSeparateBuckets(t *testing.T) {
	l := New(Config{QPS: 1, Burst: 1})
	ip := net.ParseIP("203.0.113.5")

	if !l.Allow(ip, "a.example.com.", 1) {
		t.Fatal("first query for a.example.com should be allowed")
	}
	if !l.Allow(ip, "b.example.com.", 1) {
		t.Fatal("a different qname should have its own bucket")
	}
}
