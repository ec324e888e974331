package upstream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avidal/dnsward/internal/random"
	"github.com/avidal/dnsward/internal/wire"
)

// fakeUpstream starts a local UDP "resolver" that always answers A
// queries with the given address, mirroring the loopback
// net.ListenPacket pattern the teacher's resolver tests use (adapted
// here to build replies with our own codec instead of miekg/dns).
func fakeUpstream(t *testing.T, answer [4]byte) (addr string, stop func()) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, wire.MaxMessageSize)
		for {
			n, raddr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			query, err := wire.Unpack(buf[:n])
			if err != nil {
				continue
			}

			resp := &wire.Message{
				Header: wire.Header{
					ID:     query.Header.ID,
					QR:     true,
					RD:     query.Header.RD,
					RA:     true,
					Rcode:  wire.RcodeNoError,
				},
				Question: query.Question,
				Answer: []wire.ResourceRecord{
					{
						Name:  query.Question[0].Name,
						Type:  wire.TypeA,
						Class: wire.ClassIN,
						TTL:   3600,
						RData: answer[:],
					},
				},
			}
			out, err := wire.Pack(resp)
			if err != nil {
				continue
			}
			pc.WriteTo(out, raddr)
		}
	}()

	return pc.LocalAddr().String(), func() {
		pc.Close()
		<-done
	}
}

func TestClientLookupA(t *testing.T) {
	addr, closeFn := fakeUpstream(t, [4]byte{93, 184, 216, 34})
	defer closeFn()

	c := New(addr)
	c.Timeout = 2 * time.Second

	ips, err := c.LookupA(context.Background(), "example.com.")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	require.Equal(t, net.IPv4(93, 184, 216, 34).To4(), ips[0].To4())
}

func TestClientQueryTimeout(t *testing.T) {
	// A nameserver address with nothing listening should time out
	// rather than hang the dispatcher forever.
	c := New("127.0.0.1:1")
	c.Timeout = 200 * time.Millisecond

	_, err := c.LookupA(context.Background(), "example.com.")
	if err == nil {
		t.Fatal("expected an error from an unreachable nameserver")
	}
}

func TestClientLookupAWithPortPool(t *testing.T) {
	addr, closeFn := fakeUpstream(t, [4]byte{8, 8, 4, 4})
	defer closeFn()

	pool, err := random.NewPortPool(random.PortPoolConfig{
		MinPort: 40000, MaxPort: 40010, MaxInUse: 10,
	})
	require.NoError(t, err)

	c := NewWithPortPool(addr, pool)
	c.Timeout = 2 * time.Second

	ips, err := c.LookupA(context.Background(), "example.com.")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	require.Equal(t, net.IPv4(8, 8, 4, 4).To4(), ips[0].To4())

	stats := pool.GetStats()
	require.Equal(t, 0, stats.InUse, "query's source port should be released back to the pool")
}

func TestAsyncClientQueryA(t *testing.T) {
	addr, closeFn := fakeUpstream(t, [4]byte{1, 2, 3, 4})
	defer closeFn()

	c := New(addr)
	c.Timeout = 2 * time.Second
	async := NewAsync(c)

	resultCh := make(chan Result, 1)
	async.QueryA(context.Background(), "example.com.", func(r Result) {
		resultCh <- r
	})

	select {
	case r := <-resultCh:
		require.NoError(t, r.Err)
		require.Len(t, r.Addrs, 1)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for async callback")
	}
}
