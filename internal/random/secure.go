// Package random supplies the upstream client's two sources of query
// entropy against off-path response spoofing: the 16-bit transaction
// ID every query/response pair must agree on, and an explicit source
// port drawn from a managed pool rather than left to the OS's own
// ephemeral-port allocator.
package random

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"
)

var (
	ErrPortPoolExhausted = errors.New("no available ports in pool")
	ErrInvalidPortRange  = errors.New("invalid port range")
)

// TransactionID returns a crypto/rand-sourced 16-bit transaction ID.
// Never math/rand here: a predictable ID is what makes Kaminsky-style
// cache poisoning practical.
func TransactionID() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint16(buf[:])
}

// SourcePort draws a random port from the high ephemeral range
// (32768-61000), stopping short of 65535 to leave room for ports a
// concurrently running service might already hold.
func SourcePort() uint16 {
	const (
		minPort   = 32768
		portRange = 61000 - 32768
	)

	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}

	randomOffset := binary.BigEndian.Uint32(buf[:]) % portRange
	return uint16(minPort + randomOffset)
}

// PortPool hands out source ports from a bounded range so the
// upstream client can bind an explicit local port per query instead
// of trusting whatever the OS assigns, recycling a port once its
// lifetime (held comfortably longer than upstream.DefaultTimeout) has
// elapsed.
type PortPool struct {
	mu sync.Mutex

	minPort int
	maxPort int

	available map[uint16]struct{}
	inUse     map[uint16]time.Time

	maxInUse     int
	portLifetime time.Duration

	allocated   uint64
	recycled    uint64
	exhaustions uint64
}

// PortPoolConfig tunes a PortPool; a zero value gets the defaults below.
type PortPoolConfig struct {
	// MinPort/MaxPort bound the port range allocated from (default:
	// 32768-61000, the same high ephemeral range SourcePort draws
	// from).
	MinPort int
	MaxPort int

	// MaxInUse caps simultaneous in-flight allocations (default: 10000).
	MaxInUse int

	// PortLifetime is how long an allocation is held before it becomes
	// eligible for recycling; must exceed upstream.DefaultTimeout so a
	// slow-but-live query is never recycled out from under itself
	// (default: 2 minutes).
	PortLifetime time.Duration
}

// NewPortPool builds a PortPool and starts its background recycler.
func NewPortPool(cfg PortPoolConfig) (*PortPool, error) {
	if cfg.MinPort == 0 {
		cfg.MinPort = 32768
	}
	if cfg.MaxPort == 0 {
		cfg.MaxPort = 61000
	}
	if cfg.MaxInUse == 0 {
		cfg.MaxInUse = 10000
	}
	if cfg.PortLifetime == 0 {
		cfg.PortLifetime = 2 * time.Minute
	}

	if cfg.MinPort >= cfg.MaxPort {
		return nil, ErrInvalidPortRange
	}
	if cfg.MinPort < 1024 {
		return nil, errors.New("min port must be >= 1024 (non-privileged)")
	}

	portCount := cfg.MaxPort - cfg.MinPort

	p := &PortPool{
		minPort:      cfg.MinPort,
		maxPort:      cfg.MaxPort,
		available:    make(map[uint16]struct{}, portCount),
		inUse:        make(map[uint16]time.Time, cfg.MaxInUse),
		maxInUse:     cfg.MaxInUse,
		portLifetime: cfg.PortLifetime,
	}

	for port := cfg.MinPort; port < cfg.MaxPort; port++ {
		p.available[uint16(port)] = struct{}{}
	}

	go p.cleanup()

	return p, nil
}

// Allocate draws a random port from the available set, falling back to
// recycling an expired in-use port if none are free or MaxInUse ports
// are already allocated.
func (p *PortPool) Allocate() (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.available) > 0 && len(p.inUse) < p.maxInUse {
		// Collecting into a slice first is wasteful but keeps the pick
		// uniform; a map range order is not something to rely on.
		ports := make([]uint16, 0, len(p.available))
		for port := range p.available {
			ports = append(ports, port)
		}

		var buf [4]byte
		rand.Read(buf[:])
		idx := int(binary.BigEndian.Uint32(buf[:])) % len(ports)
		selectedPort := ports[idx]

		delete(p.available, selectedPort)
		p.inUse[selectedPort] = time.Now()
		p.allocated++

		return selectedPort, nil
	}

	now := time.Now()
	for port, allocated := range p.inUse {
		if now.Sub(allocated) > p.portLifetime {
			p.recycled++
			p.inUse[port] = now
			return port, nil
		}
	}

	p.exhaustions++
	return 0, ErrPortPoolExhausted
}

// Release returns port to the available set once its query is done.
func (p *PortPool) Release(port uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.inUse, port)
	if int(port) >= p.minPort && int(port) < p.maxPort {
		p.available[port] = struct{}{}
	}
}

// cleanup reclaims ports abandoned without a Release call (a client
// that died mid-query, say) once their lifetime has elapsed.
func (p *PortPool) cleanup() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()

		now := time.Now()
		var expired []uint16
		for port, allocated := range p.inUse {
			if now.Sub(allocated) > p.portLifetime {
				expired = append(expired, port)
			}
		}
		for _, port := range expired {
			delete(p.inUse, port)
			p.available[port] = struct{}{}
			p.recycled++
		}

		p.mu.Unlock()
	}
}

// PoolStats is a snapshot of a PortPool's counters.
type PoolStats struct {
	Available   int
	InUse       int
	Allocated   uint64
	Recycled    uint64
	Exhaustions uint64
}

// GetStats returns current pool statistics
func (p *PortPool) GetStats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		Available:   len(p.available),
		InUse:       len(p.inUse),
		Allocated:   p.allocated,
		Recycled:    p.recycled,
		Exhaustions: p.exhaustions,
	}
}

// QueryID pairs a query's transaction ID with the source port it was
// sent from; together the two give an off-path spoofer about 30.8 bits
// to guess over SourcePort's range (see Entropy) instead of the 16 a
// bare transaction ID offers.
type QueryID struct {
	TxID uint16
	Port uint16
}

// NewQueryID draws a fresh transaction ID and source port.
func NewQueryID() QueryID {
	return QueryID{
		TxID: TransactionID(),
		Port: SourcePort(),
	}
}

func (q QueryID) String() string {
	return fmt.Sprintf("txid=%d port=%d", q.TxID, q.Port)
}

// Hash returns a 32-bit-entropy key suitable for an in-flight-query
// lookup table keyed by (transaction ID, source port).
func (q QueryID) Hash() uint64 {
	return uint64(q.TxID)<<16 | uint64(q.Port)
}

// ValidateResponse reports whether a response's transaction ID
// matches q. The source-port side of the check happens for free: a
// socket explicitly bound to q.Port can only ever receive a reply
// addressed to that port, so responseAddr is accepted for callers
// that want to log it but isn't compared here.
func (q QueryID) ValidateResponse(responseTxID uint16, responseAddr net.Addr) bool {
	_ = responseAddr
	return q.TxID == responseTxID
}

// Entropy reports the combined bits of guesswork an off-path spoofer
// faces: 16 from the transaction ID plus log2 of the source-port
// range SourcePort draws from.
func Entropy() float64 {
	const (
		txidBits = 16.0
		portBits = 14.78
	)
	return txidBits + portBits
}

// RequiredQueriesFor50PercentCollision estimates, via the birthday
// bound sqrt(2^Entropy()), how many spoofed responses an attacker
// needs to land a 50% chance of guessing a live (txid, port) pair.
func RequiredQueriesFor50PercentCollision() int {
	return int(math.Sqrt(math.Exp2(Entropy())))
}
