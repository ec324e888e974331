// Package upstream implements the forwarder's UDP client to its
// configured recursive resolver: a synchronous query/response round
// trip with fixed timeouts, and an async form that delivers the result
// via a callback instead of blocking the caller.
//
// Grounded on the original forwarder's dns_query/nslookup/nslookup6
// (src/dns.c) for the wire semantics. Query entropy comes from
// internal/random: a crypto/rand transaction ID always, and
// optionally an explicit source port bound via a random.PortPool
// instead of the OS's own ephemeral-port choice.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/avidal/dnsward/internal/random"
	"github.com/avidal/dnsward/internal/wire"
)

// DefaultTimeout matches the original forwarder's 5-second send/recv
// socket timeouts.
const DefaultTimeout = 5 * time.Second

var (
	// ErrResponseMismatch is returned when a response's transaction ID,
	// QR bit, or rcode doesn't validate against the query that was sent.
	ErrResponseMismatch = errors.New("upstream: response does not match query")

	// ErrNoAnswer is returned when the upstream replied with zero answers.
	ErrNoAnswer = errors.New("upstream: no answer records")
)

// Client queries a single upstream nameserver over UDP.
type Client struct {
	Nameserver string
	Timeout    time.Duration

	// Ports, if set, makes the client bind each query's socket to an
	// explicit source port drawn from the pool instead of the one the
	// OS's ephemeral-port allocator would otherwise pick, widening the
	// guesswork an off-path spoofer faces from the transaction ID's 16
	// bits to the combined entropy random.Entropy reports. Left nil by
	// New; callers that want it construct one with NewWithPortPool.
	Ports *random.PortPool
}

// New creates a Client targeting the given nameserver address
// ("ip:port", e.g. "8.8.8.8:53") with the default timeout and no
// explicit source-port binding.
func New(nameserver string) *Client {
	return &Client{Nameserver: nameserver, Timeout: DefaultTimeout}
}

// NewWithPortPool creates a Client that binds an explicit source port
// from pool on every query instead of letting the OS assign one.
func NewWithPortPool(nameserver string, pool *random.PortPool) *Client {
	return &Client{Nameserver: nameserver, Timeout: DefaultTimeout, Ports: pool}
}

// Query sends a single-question recursive query for (name, qtype) and
// returns the parsed response. It validates that the response's
// transaction ID matches, that it's actually a response (QR=1), and
// that rcode is NOERROR — any mismatch is reported as
// ErrResponseMismatch, exactly as the original nslookup()/nslookup6()
// collapse all three failure modes into a single "mismatch" outcome.
func (c *Client) Query(ctx context.Context, name string, qtype uint16) (*wire.Message, error) {
	qid := random.NewQueryID()
	query := &wire.Message{
		Header: wire.Header{
			ID: qid.TxID,
			QR: false,
			RD: true,
		},
		Question: []wire.Question{
			{Name: name, Type: qtype, Class: wire.ClassIN},
		},
	}

	buf, err := wire.Pack(query)
	if err != nil {
		return nil, fmt.Errorf("upstream: pack query: %w", err)
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	raddr, err := net.ResolveUDPAddr("udp", c.Nameserver)
	if err != nil {
		return nil, fmt.Errorf("upstream: resolve %s: %w", c.Nameserver, err)
	}

	conn, releasePort, err := c.dial(raddr, &qid)
	if err != nil {
		return nil, fmt.Errorf("upstream: dial %s: %w", c.Nameserver, err)
	}
	defer conn.Close()
	defer releasePort()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("upstream: set deadline: %w", err)
	}

	if _, err := conn.Write(buf); err != nil {
		return nil, fmt.Errorf("upstream: send: %w", err)
	}

	resp := make([]byte, wire.MaxMessageSize)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("upstream: receive: %w", err)
	}

	msg, err := wire.Unpack(resp[:n])
	if err != nil {
		return nil, fmt.Errorf("upstream: unpack response: %w", err)
	}

	if !qid.ValidateResponse(msg.Header.ID, conn.RemoteAddr()) || !msg.Header.QR || msg.Header.Rcode != wire.RcodeNoError {
		return nil, ErrResponseMismatch
	}

	return msg, nil
}

// dial opens the UDP socket a query will be sent on. With a port pool
// configured it allocates a source port and binds to it explicitly,
// releasing the port back to the pool (via the returned func) once the
// query is done; without one it falls back to net.Dial's ordinary
// ephemeral-port behavior, in which case the release func is a no-op.
// A bind failure (e.g. the drawn port collided with another process)
// falls back to the ephemeral allocator rather than failing the query.
func (c *Client) dial(raddr *net.UDPAddr, qid *random.QueryID) (*net.UDPConn, func(), error) {
	if c.Ports == nil {
		conn, err := net.DialUDP("udp", nil, raddr)
		return conn, func() {}, err
	}

	port, err := c.Ports.Allocate()
	if err != nil {
		conn, dialErr := net.DialUDP("udp", nil, raddr)
		return conn, func() {}, dialErr
	}
	qid.Port = port
	release := func() { c.Ports.Release(port) }

	laddr := &net.UDPAddr{Port: int(port)}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		release()
		conn, dialErr := net.DialUDP("udp", nil, raddr)
		return conn, func() {}, dialErr
	}
	return conn, release, nil
}

// LookupA resolves name's A records, mirroring nslookup(): it returns
// every IPv4 address found in the answer section, in order.
func (c *Client) LookupA(ctx context.Context, name string) ([]net.IP, error) {
	msg, err := c.Query(ctx, name, wire.TypeA)
	if err != nil {
		return nil, err
	}
	if len(msg.Answer) == 0 {
		return nil, ErrNoAnswer
	}

	var addrs []net.IP
	for _, rr := range msg.Answer {
		if rr.Type == wire.TypeA && len(rr.RData) == 4 {
			addrs = append(addrs, net.IP(rr.RData))
		}
	}
	if len(addrs) == 0 {
		return nil, ErrNoAnswer
	}
	return addrs, nil
}

// LookupAAAA resolves name's AAAA records, mirroring nslookup6().
func (c *Client) LookupAAAA(ctx context.Context, name string) ([]net.IP, error) {
	msg, err := c.Query(ctx, name, wire.TypeAAAA)
	if err != nil {
		return nil, err
	}
	if len(msg.Answer) == 0 {
		return nil, ErrNoAnswer
	}

	var addrs []net.IP
	for _, rr := range msg.Answer {
		if rr.Type == wire.TypeAAAA && len(rr.RData) == 16 {
			addrs = append(addrs, net.IP(rr.RData))
		}
	}
	if len(addrs) == 0 {
		return nil, ErrNoAnswer
	}
	return addrs, nil
}
