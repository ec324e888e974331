// Command dnsward runs the caching, filtering DNS forwarder: it
// binds a UDP socket, answers A/AAAA queries from cache, a blocklist,
// or a forwarded upstream lookup, and prints periodic statistics until
// it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avidal/dnsward/internal/config"
	"github.com/avidal/dnsward/internal/eventbus"
	"github.com/avidal/dnsward/internal/metrics"
	"github.com/avidal/dnsward/internal/random"
	"github.com/avidal/dnsward/internal/ratelimit"
	"github.com/avidal/dnsward/internal/server"
)

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║                dnsward - caching DNS forwarder                ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Port:             %d\n", cfg.Port)
	fmt.Printf("  Cache Size:       %d\n", cfg.CacheSize)
	fmt.Printf("  Upstream:         %s\n", cfg.UpstreamAddr)
	fmt.Printf("  Hosts File:       %s\n", valueOrNone(cfg.HostsFile))
	fmt.Printf("  Debug Level:      %d\n", cfg.DebugLevel)
	fmt.Printf("  Rate Limit:       %v\n", cfg.RateLimitEnabled)
	fmt.Printf("  Metrics Address:  %s\n", valueOrNone(cfg.MetricsAddr))
	fmt.Printf("  Source Port Rand: %v", cfg.RandomizeSourcePort)
	if cfg.RandomizeSourcePort {
		fmt.Printf(" (%.1f bits of query entropy)", random.Entropy())
	}
	fmt.Println()
	fmt.Println()

	bus := eventbus.New(16)

	var reg *metrics.Registry
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.MetricsAddr != "" {
		reg = metrics.New()
		go func() {
			if err := reg.Serve(ctx, cfg.MetricsAddr); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
	}

	srvCfg := server.Config{
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		CacheSize:    cfg.CacheSize,
		UpstreamAddr: cfg.UpstreamAddr,
		HostsFile:    cfg.HostsFile,
		Metrics:      reg,
		Bus:          bus,
		RandomizeSourcePort: cfg.RandomizeSourcePort,
	}
	if cfg.RateLimitEnabled {
		rlCfg := ratelimit.DefaultConfig()
		rlCfg.QPS = cfg.RateQPS
		rlCfg.Burst = cfg.RateBurst
		srvCfg.RateLimit = &rlCfg
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("listening on %s\n\n", srv.LocalAddr())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx)
	}()

	go printStats(ctx, srv)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println()
	case err := <-serveErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}

	cancel()
	if err := srv.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing server: %v\n", err)
		os.Exit(1)
	}
	<-serveErr
}

func valueOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func printStats(ctx context.Context, srv *server.Server) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	lastQueries := uint64(0)
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := srv.Stats()
		now := time.Now()
		elapsed := now.Sub(lastTime).Seconds()
		qps := float64(stats.Queries-lastQueries) / elapsed

		fmt.Printf("═══════════════════════════════════════════════════════════\n")
		fmt.Printf("Statistics (%.1fs interval):\n", elapsed)
		fmt.Printf("  Queries:        %10d  (%.1f qps)\n", stats.Queries, qps)
		fmt.Printf("  Answers:        %10d\n", stats.Answers)
		fmt.Printf("  NXDOMAIN:       %10d\n", stats.NXDomain)
		fmt.Printf("  Blocklist hits: %10d\n", stats.BlocklistHits)
		fmt.Printf("  Upstream errors:%10d\n", stats.UpstreamErrors)
		fmt.Printf("  Rate-limited:   %10d\n", stats.Dropped)
		fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

		lastQueries = stats.Queries
		lastTime = now
	}
}
