// Package server implements the forwarder's single-threaded,
// event-driven dispatcher: bind a UDP socket, and for every datagram
// run unpack -> blocklist check -> cache probe -> upstream forward ->
// response synthesis -> cache update -> pack -> send, always emitting
// exactly one reply per received query (or none, on malformed input, a
// rate-limit drop, or a reply that fails to pack or exceeds 512 bytes).
//
// Grounded on original_source/src/dns_server.c (dns_server_init,
// on_recv, on_dns_query, check_cache, build_dns_response,
// perform_dns_lookup, load_blacklist) for the algorithm. The original
// runs this loop inside libhv's event loop with a process-global
// server instance reached from a signal handler; this port replaces
// both with an ordinary *Server value and a context.Context the read
// loop polls between datagrams, per the design notes on avoiding
// global mutable server state.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/avidal/dnsward/internal/cache"
	"github.com/avidal/dnsward/internal/eventbus"
	"github.com/avidal/dnsward/internal/hostsfile"
	"github.com/avidal/dnsward/internal/metrics"
	"github.com/avidal/dnsward/internal/pool"
	"github.com/avidal/dnsward/internal/random"
	"github.com/avidal/dnsward/internal/ratelimit"
	"github.com/avidal/dnsward/internal/upstream"
	"github.com/avidal/dnsward/internal/wire"
)

// pollInterval bounds how long a single ReadFrom call blocks before the
// read loop re-checks ctx for cancellation. The original forwarder never
// needed this (libhv's loop owns cancellation); a plain net.PacketConn
// read has no way to be woken by context cancellation other than a
// deadline, so this is this port's equivalent of hloop_stop.
const pollInterval = 250 * time.Millisecond

// Config configures a Server.
type Config struct {
	// Addr is the UDP address to listen on, e.g. "0.0.0.0:53".
	Addr string

	// CacheSize bounds both the answer cache and the blocklist.
	CacheSize int

	// UpstreamAddr is the recursive resolver queries are forwarded to
	// ("ip:port", e.g. "8.8.8.8:53").
	UpstreamAddr string

	// HostsFile optionally seeds the blocklist and answer-cache
	// overrides at startup. Empty skips loading.
	HostsFile string

	// RateLimit, if non-nil, gates queries by client/qname/qtype before
	// they reach the blocklist/cache/upstream pipeline.
	RateLimit *ratelimit.Config

	// RandomizeSourcePort, if true, has the upstream client bind an
	// explicit source port per query from a random.PortPool instead of
	// leaving port assignment to the OS, per the spoofing-resistance
	// rationale in internal/random.
	RandomizeSourcePort bool

	// Metrics, if non-nil, receives per-query counters.
	Metrics *metrics.Registry

	// Bus, if non-nil, is published dispatcher lifecycle events
	// (cache inserts, blocklist reloads, rate-limit drops).
	Bus *eventbus.Bus

	// Logger receives info/debug lines; a nil Logger uses log.Default().
	Logger *log.Logger
}

// Stats reports cumulative dispatcher counters, independent of whatever
// Prometheus registry is (or isn't) attached.
type Stats struct {
	Queries        uint64
	Answers        uint64
	NXDomain       uint64
	Dropped        uint64
	BlocklistHits  uint64
	UpstreamErrors uint64
}

// Server is the bound UDP forwarder: one goroutine runs its Serve loop
// and owns its caches and upstream client exclusively, needing no locks
// around them. The stats counters are the one exception, since Stats()
// is meant to be called concurrently from a reporting goroutine.
type Server struct {
	cfg  Config
	conn *net.UDPConn
	log  *log.Logger

	answers   *cache.Cache
	blocklist *cache.Cache
	upstream  *upstream.Client
	limiter   *ratelimit.Limiter

	queries        atomic.Uint64
	answered       atomic.Uint64
	nxdomain       atomic.Uint64
	dropped        atomic.Uint64
	blocklistHits  atomic.Uint64
	upstreamErrors atomic.Uint64
}

// New binds the UDP socket, allocates the caches, and loads the
// hosts-file blocklist/overrides. Any step failing aborts
// initialization, matching dns_server_init's all-or-nothing contract.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = "0.0.0.0:53"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("server: resolve %s: %w", cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("server: listen %s: %w", cfg.Addr, err)
	}

	upstreamClient := upstream.New(cfg.UpstreamAddr)
	if cfg.RandomizeSourcePort {
		pool, err := random.NewPortPool(random.PortPoolConfig{})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("server: create source-port pool: %w", err)
		}
		upstreamClient = upstream.NewWithPortPool(cfg.UpstreamAddr, pool)
	}

	s := &Server{
		cfg:       cfg,
		conn:      conn,
		log:       logger,
		answers:   cache.New(cache.Config{Capacity: cfg.CacheSize}),
		blocklist: cache.New(cache.Config{Capacity: cfg.CacheSize}),
		upstream:  upstreamClient,
	}
	if cfg.RateLimit != nil {
		s.limiter = ratelimit.New(*cfg.RateLimit)
	}

	if cfg.HostsFile != "" {
		hstats, err := hostsfile.Load(cfg.HostsFile, s.blocklist, s.answers)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("server: load hosts file: %w", err)
		}
		logger.Printf("hosts file loaded: %d blocked, %d overrides, %d skipped", hstats.Blocked, hstats.Overrides, hstats.Skipped)
		if cfg.Bus != nil {
			cfg.Bus.Publish(eventbus.TopicBlocklistReload, hstats)
		}
	}

	return s, nil
}

// LocalAddr returns the socket's bound address (useful in tests that
// bind an ephemeral port).
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close releases the UDP socket. Callers should cancel Serve's context
// first; Close on its own just unblocks a pending ReadFrom.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Stats returns a snapshot of cumulative dispatcher counters.
func (s *Server) Stats() Stats {
	return Stats{
		Queries:        s.queries.Load(),
		Answers:        s.answered.Load(),
		NXDomain:       s.nxdomain.Load(),
		Dropped:        s.dropped.Load(),
		BlocklistHits:  s.blocklistHits.Load(),
		UpstreamErrors: s.upstreamErrors.Load(),
	}
}

// Serve runs the single-threaded read loop until ctx is cancelled or
// the socket errors. Every datagram is handled synchronously end to
// end before the next ReadFrom, per the concurrency model: there is no
// per-query goroutine, and the upstream round trip (up to
// upstream.DefaultTimeout) blocks the whole loop. This is the
// known-limitation synchronous design the spec calls out; the async
// upstream client exists for an implementer who wants to fix it.
func (s *Server) Serve(ctx context.Context) error {
	buf := pool.GetLargeBuffer()
	defer pool.PutLargeBuffer(buf)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return fmt.Errorf("server: set read deadline: %w", err)
		}

		n, client, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("server: read: %w", err)
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		s.handleDatagram(datagram, client)
	}
}

// handleDatagram runs the full per-query pipeline: unpack, classify,
// (forward), synthesize, pack, send. It never returns an error to its
// caller — every failure mode here is logged and/or turned into a
// reply, matching "no errors propagate across the event-loop boundary".
func (s *Server) handleDatagram(datagram []byte, client *net.UDPAddr) {
	query, err := wire.Unpack(datagram)
	if err != nil {
		s.log.Printf("dropping malformed query from %s: %v", client, err)
		return
	}
	if len(query.Question) == 0 {
		s.log.Printf("dropping query with no question from %s", client)
		return
	}
	s.queries.Add(1)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Queries.Inc()
	}

	question := query.Question[0]

	if s.limiter != nil && !s.limiter.Allow(client.IP, question.Name, question.Type) {
		s.dropped.Add(1)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RateLimitDrops.Inc()
		}
		if s.cfg.Bus != nil {
			s.cfg.Bus.Publish(eventbus.TopicQueryDenied, client.IP.String())
		}
		return
	}

	response := &wire.Message{
		Header: wire.Header{
			ID: query.Header.ID,
			QR: true,
			RD: query.Header.RD,
			RA: true,
		},
		Question: query.Question,
	}

	blocked := hostsfile.IsBlocked(s.blocklist, question.Name)
	if blocked {
		s.blocklistHits.Add(1)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.BlocklistHits.Inc()
		}
		s.log.Printf("blocked: %s", question.Name)
		s.nxdomain.Add(1)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.NXDomain.Inc()
		}
		s.reply(nxdomain(response), client)
		return
	}

	if question.Type == wire.TypeA {
		if value, ok := s.answers.Get(question.Name); ok {
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.CacheHits.Inc()
			}
			synthesize(response, question, wire.TypeA, value, 4)
			s.answered.Add(1)
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.Answers.Inc()
			}
			s.log.Printf("cache hit: %s", question.Name)
			s.reply(response, client)
			return
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.CacheMisses.Inc()
		}
	}

	// Forward: cache miss (or non-A query, which this design never
	// caches) goes to the configured upstream resolver.
	ctx, cancel := context.WithTimeout(context.Background(), upstream.DefaultTimeout)
	start := time.Now()
	var addrs []net.IP
	switch question.Type {
	case wire.TypeA:
		addrs, err = s.upstream.LookupA(ctx, question.Name)
	case wire.TypeAAAA:
		addrs, err = s.upstream.LookupAAAA(ctx, question.Name)
	default:
		err = fmt.Errorf("server: unsupported question type %d", question.Type)
	}
	cancel()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
	}

	if err != nil || len(addrs) == 0 {
		s.upstreamErrors.Add(1)
		s.nxdomain.Add(1)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.UpstreamErrors.Inc()
			s.cfg.Metrics.NXDomain.Inc()
		}
		if err != nil {
			s.log.Printf("upstream lookup failed for %s: %v", question.Name, err)
		} else {
			s.log.Printf("upstream returned no answer for %s", question.Name)
		}
		s.reply(nxdomain(response), client)
		return
	}

	recSize := 4
	if question.Type == wire.TypeAAAA {
		recSize = 16
	}
	value := make([]byte, 0, len(addrs)*recSize)
	for _, ip := range addrs {
		if question.Type == wire.TypeAAAA {
			value = append(value, ip.To16()...)
		} else {
			value = append(value, ip.To4()...)
		}
	}
	synthesize(response, question, question.Type, value, recSize)

	// Only the first A answer is ever cached; AAAA answers are always
	// served live from upstream. This mirrors perform_dns_lookup's
	// cache_insert(server->cache, name, &addrs[0]) call, which only runs
	// in the A branch.
	if question.Type == wire.TypeA {
		s.answers.Insert(question.Name, value[:4])
		s.log.Printf("cache insert: %s", question.Name)
		if s.cfg.Bus != nil {
			s.cfg.Bus.Publish(eventbus.TopicCacheInsert, eventbus.CacheInsert{Name: question.Name, Type: question.Type})
		}
	}

	s.answered.Add(1)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Answers.Inc()
	}
	s.reply(response, client)
}

// nxdomain sets rcode=3 on response and clears any answers, matching
// dns_server.c's uniform NXDOMAIN collapse for both blocklist hits and
// upstream failures — the client cannot tell the two apart.
func nxdomain(response *wire.Message) *wire.Message {
	response.Header.Rcode = wire.RcodeNXDomain
	response.Answer = nil
	return response
}

// synthesize builds response's answer section from value, a packed
// sequence of recSize-byte records, mirroring build_dns_response: one
// answer per record, name/class copied from the question, TTL fixed at
// 3600 seconds.
func synthesize(response *wire.Message, question wire.Question, rtype uint16, value []byte, recSize int) {
	n := len(value) / recSize
	response.Answer = make([]wire.ResourceRecord, 0, n)
	for i := 0; i < n; i++ {
		response.Answer = append(response.Answer, wire.ResourceRecord{
			Name:  question.Name,
			Type:  rtype,
			Class: question.Class,
			TTL:   3600,
			RData: append([]byte(nil), value[i*recSize:(i+1)*recSize]...),
		})
	}
}

// reply packs response and writes it back to client. A pack failure
// (oversized message) or a write failure is logged and the datagram is
// dropped — the client will time out and retry, same as the original's
// "log, drop" policy for dns_pack failures.
func (s *Server) reply(response *wire.Message, client *net.UDPAddr) {
	out, err := wire.Pack(response)
	if err != nil {
		s.log.Printf("failed to pack response for %s: %v", client, err)
		return
	}
	if len(out) > 512 {
		s.log.Printf("dropping oversized reply (%d bytes) for %s", len(out), client)
		return
	}
	if _, err := s.conn.WriteToUDP(out, client); err != nil {
		s.log.Printf("failed to send reply to %s: %v", client, err)
	}
}
