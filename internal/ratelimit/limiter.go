// Package ratelimit implements per-client admission control for the
// dispatcher: a token bucket per (client address prefix, qname, qtype)
// tuple, built on golang.org/x/time/rate and keyed by a SipHash of the
// tuple so bucket identifiers can't be predicted or collided by a
// crafted query stream.
//
// Grounded on internal/engine/ratelimiter.go for the x/time/rate wiring
// and internal/rrl/limiter.go for the idea of bucketing by IP prefix
// rather than full address. The SipHash key generation is carried over
// from internal/cookie/cookie.go's DNS-Cookie secret handling, repointed
// at rate-limiter buckets since DNS Cookies themselves are out of scope.
package ratelimit

import (
	"crypto/rand"
	"net"
	"sync"
	"time"

	"github.com/dchest/siphash"
	"golang.org/x/time/rate"
)

// Config configures a Limiter.
type Config struct {
	// QPS is the sustained queries-per-second budget per bucket.
	QPS float64
	// Burst is the maximum burst size per bucket.
	Burst int
	// IPv4PrefixLen/IPv6PrefixLen bucket clients by network prefix
	// rather than exact address, the way internal/rrl/limiter.go does.
	IPv4PrefixLen int
	IPv6PrefixLen int
	// MaxIdle is how long an unused bucket is kept before being swept.
	MaxIdle time.Duration
}

// DefaultConfig returns the defaults named in the rate-limiter design:
// 20 QPS, burst 40, /24 (v4) or /56 (v6) bucketing, 5-minute sweep.
func DefaultConfig() Config {
	return Config{
		QPS:           20,
		Burst:         40,
		IPv4PrefixLen: 24,
		IPv6PrefixLen: 56,
		MaxIdle:       5 * time.Minute,
	}
}

type bucketEntry struct {
	limiter    *rate.Limiter
	lastTouch  time.Time
}

// Limiter is a per-client-bucket token-bucket admission gate. A zero
// Limiter is not usable; construct with New.
type Limiter struct {
	cfg Config
	key [16]byte

	mu      sync.Mutex
	buckets map[uint64]*bucketEntry

	allowed uint64
	denied  uint64
}

// New creates a Limiter with a process-lifetime random SipHash key.
func New(cfg Config) *Limiter {
	if cfg.QPS == 0 {
		cfg.QPS = DefaultConfig().QPS
	}
	if cfg.Burst == 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	if cfg.IPv4PrefixLen == 0 {
		cfg.IPv4PrefixLen = 24
	}
	if cfg.IPv6PrefixLen == 0 {
		cfg.IPv6PrefixLen = 56
	}
	if cfg.MaxIdle == 0 {
		cfg.MaxIdle = 5 * time.Minute
	}

	l := &Limiter{cfg: cfg, buckets: make(map[uint64]*bucketEntry)}
	if _, err := rand.Read(l.key[:]); err != nil {
		panic("ratelimit: crypto/rand failed: " + err.Error())
	}
	return l
}

// Allow reports whether a query from clientIP for (qname, qtype) may
// proceed. Denied queries should be dropped silently by the caller, the
// same policy the dispatcher applies to malformed input.
func (l *Limiter) Allow(clientIP net.IP, qname string, qtype uint16) bool {
	h := l.bucketHash(clientIP, qname, qtype)

	l.mu.Lock()
	entry, ok := l.buckets[h]
	if !ok {
		entry = &bucketEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.QPS), l.cfg.Burst)}
		l.buckets[h] = entry
	}
	entry.lastTouch = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	ok = limiter.Allow()
	if ok {
		l.mu.Lock()
		l.allowed++
		l.mu.Unlock()
	} else {
		l.mu.Lock()
		l.denied++
		l.mu.Unlock()
	}
	return ok
}

// Sweep removes buckets untouched for longer than MaxIdle. Callers
// should run this periodically (e.g. from the same ticker that prints
// stats) rather than on every query.
func (l *Limiter) Sweep() int {
	cutoff := time.Now().Add(-l.cfg.MaxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, entry := range l.buckets {
		if entry.lastTouch.Before(cutoff) {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

func (l *Limiter) bucketHash(ip net.IP, qname string, qtype uint16) uint64 {
	h := siphash.New(l.key[:])
	h.Write(prefix(ip, l.cfg.IPv4PrefixLen, l.cfg.IPv6PrefixLen))
	h.Write([]byte(qname))
	h.Write([]byte{byte(qtype >> 8), byte(qtype)})
	return h.Sum64()
}

func prefix(ip net.IP, v4Len, v6Len int) []byte {
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(v4Len, 32))
	}
	v6 := ip.To16()
	if v6 == nil {
		return ip
	}
	return v6.Mask(net.CIDRMask(v6Len, 128))
}

// Stats reports cumulative limiter counters.
type Stats struct {
	Allowed uint64
	Denied  uint64
	Buckets int
}

// GetStats returns a snapshot of limiter counters.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Allowed: l.allowed, Denied: l.denied, Buckets: len(l.buckets)}
}
