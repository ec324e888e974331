// Package metrics registers the forwarder's Prometheus counters and
// serves them over a dedicated HTTP listener, never the DNS UDP port.
//
// Grounded on api/grpc/middleware/middleware.go's
// prometheus.NewCounterVec/NewHistogramVec + MustRegister pattern,
// without the gRPC interceptor plumbing this repo has no use for.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter/histogram the dispatcher reports to.
type Registry struct {
	registry *prometheus.Registry

	Queries          prometheus.Counter
	Answers          prometheus.Counter
	NXDomain         prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	BlocklistHits    prometheus.Counter
	UpstreamErrors   prometheus.Counter
	UpstreamLatency  prometheus.Histogram
	RateLimitDrops   prometheus.Counter
}

// New creates a Registry with all metrics registered against a fresh
// prometheus.Registry (not the global default, so multiple forwarders
// can run in the same test binary without collector collisions).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		Queries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsward_queries_total", Help: "Total DNS queries received.",
		}),
		Answers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsward_answers_total", Help: "Total successful (NOERROR) answers sent.",
		}),
		NXDomain: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsward_nxdomain_total", Help: "Total NXDOMAIN responses sent (blocklist hits and upstream failures).",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsward_cache_hits_total", Help: "Total answer-cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsward_cache_misses_total", Help: "Total answer-cache misses.",
		}),
		BlocklistHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsward_blocklist_hits_total", Help: "Total queries answered from the blocklist.",
		}),
		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsward_upstream_errors_total", Help: "Total failed upstream lookups.",
		}),
		UpstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "dnsward_upstream_latency_seconds", Help: "Upstream lookup latency.", Buckets: prometheus.DefBuckets,
		}),
		RateLimitDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsward_rate_limit_drops_total", Help: "Total queries dropped by the rate limiter.",
		}),
	}

	reg.MustRegister(
		r.Queries, r.Answers, r.NXDomain, r.CacheHits, r.CacheMisses,
		r.BlocklistHits, r.UpstreamErrors, r.UpstreamLatency, r.RateLimitDrops,
	)
	return r
}

// Serve starts an HTTP server exposing /metrics on addr and blocks
// until ctx is cancelled, then shuts the server down gracefully.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics: serve %s: %w", addr, err)
		}
		return nil
	}
}
