// Package config defines the forwarder's external surface: CLI flags
// plus an optional YAML file that flags override when both are set.
//
// Grounded on cmd/dnsscienced/main.go for the flag set (port, cache
// size, upstream address, hosts file, debug level) and
// cmd/dnsscience-grpc/config.go for the gopkg.in/yaml.v3 file-loading
// pattern.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the forwarder's full runtime configuration.
type Config struct {
	Port             int    `yaml:"port"`
	CacheSize        int    `yaml:"cache_size"`
	UpstreamAddr     string `yaml:"dns_server_ipaddr"`
	HostsFile        string `yaml:"filename"`
	DebugLevel       int    `yaml:"debug_level"`
	MetricsAddr      string `yaml:"metrics_addr"`
	RateLimitEnabled bool   `yaml:"rate_limit"`
	RateQPS          float64 `yaml:"rate_qps"`
	RateBurst        int    `yaml:"rate_burst"`
	RandomizeSourcePort bool `yaml:"randomize_source_port"`
}

// Default returns the forwarder's out-of-the-box configuration.
func Default() Config {
	return Config{
		Port:         53,
		CacheSize:    1024,
		UpstreamAddr: "8.8.8.8:53",
		HostsFile:    "",
		DebugLevel:   1,
		MetricsAddr:  "",
		RateQPS:      20,
		RateBurst:    40,
	}
}

// fileOverlay is the subset of Config that may be supplied via a YAML
// file; loadFile only overwrites fields actually present in the file.
type fileOverlay struct {
	Port             *int     `yaml:"port"`
	CacheSize        *int     `yaml:"cache_size"`
	UpstreamAddr     *string  `yaml:"dns_server_ipaddr"`
	HostsFile        *string  `yaml:"filename"`
	DebugLevel       *int     `yaml:"debug_level"`
	MetricsAddr      *string  `yaml:"metrics_addr"`
	RateLimitEnabled *bool    `yaml:"rate_limit"`
	RateQPS          *float64 `yaml:"rate_qps"`
	RateBurst        *int     `yaml:"rate_burst"`
	RandomizeSourcePort *bool `yaml:"randomize_source_port"`
}

// loadFile reads a YAML config file and applies any fields it sets on
// top of cfg.
func loadFile(cfg Config, path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if overlay.Port != nil {
		cfg.Port = *overlay.Port
	}
	if overlay.CacheSize != nil {
		cfg.CacheSize = *overlay.CacheSize
	}
	if overlay.UpstreamAddr != nil {
		cfg.UpstreamAddr = *overlay.UpstreamAddr
	}
	if overlay.HostsFile != nil {
		cfg.HostsFile = *overlay.HostsFile
	}
	if overlay.DebugLevel != nil {
		cfg.DebugLevel = *overlay.DebugLevel
	}
	if overlay.MetricsAddr != nil {
		cfg.MetricsAddr = *overlay.MetricsAddr
	}
	if overlay.RateLimitEnabled != nil {
		cfg.RateLimitEnabled = *overlay.RateLimitEnabled
	}
	if overlay.RateQPS != nil {
		cfg.RateQPS = *overlay.RateQPS
	}
	if overlay.RateBurst != nil {
		cfg.RateBurst = *overlay.RateBurst
	}
	if overlay.RandomizeSourcePort != nil {
		cfg.RandomizeSourcePort = *overlay.RandomizeSourcePort
	}

	return cfg, nil
}

// Parse builds a Config from an optional YAML config file followed by
// command-line flags, with flags always taking precedence. fs is the
// FlagSet to register onto (callers typically pass flag.CommandLine);
// args is the argument slice to parse (os.Args[1:] in production).
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Default()

	var configPath string
	fs.StringVar(&configPath, "config", "", "path to an optional YAML config file")

	port := fs.Int("port", cfg.Port, "UDP port to listen on")
	cacheSize := fs.Int("cache_size", cfg.CacheSize, "maximum number of cached/blocked names")
	upstream := fs.String("dns_server_ipaddr", cfg.UpstreamAddr, "upstream resolver address (ip:port)")
	hostsFile := fs.String("filename", cfg.HostsFile, "path to the hosts-style blocklist/overrides file")
	debugLevel := fs.Int("debug_level", cfg.DebugLevel, "debug level shown in the startup banner (0=errors only, 1=info, 2=debug); log output is not filtered by it")
	metricsAddr := fs.String("metrics_addr", cfg.MetricsAddr, "address to serve Prometheus metrics on (empty disables)")
	rateLimit := fs.Bool("rate_limit", cfg.RateLimitEnabled, "enable per-client rate limiting")
	rateQPS := fs.Float64("rate_qps", cfg.RateQPS, "sustained queries/sec per rate-limit bucket")
	rateBurst := fs.Int("rate_burst", cfg.RateBurst, "burst size per rate-limit bucket")
	randomizeSourcePort := fs.Bool("randomize_source_port", cfg.RandomizeSourcePort, "bind an explicit random source port per upstream query instead of the OS default")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if configPath != "" {
		var err error
		cfg, err = loadFile(cfg, configPath)
		if err != nil {
			return cfg, err
		}
	}

	// Flags explicitly set on the command line override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "cache_size":
			cfg.CacheSize = *cacheSize
		case "dns_server_ipaddr":
			cfg.UpstreamAddr = *upstream
		case "filename":
			cfg.HostsFile = *hostsFile
		case "debug_level":
			cfg.DebugLevel = *debugLevel
		case "metrics_addr":
			cfg.MetricsAddr = *metricsAddr
		case "rate_limit":
			cfg.RateLimitEnabled = *rateLimit
		case "rate_qps":
			cfg.RateQPS = *rateQPS
		case "rate_burst":
			cfg.RateBurst = *rateBurst
		case "randomize_source_port":
			cfg.RandomizeSourcePort = *randomizeSourcePort
		}
	})

	// If the config file left a field unset and no flag touched it
	// either, the flag's own default (computed before the file was
	// read) still applies via cfg's zero value from Default() above —
	// except when a file WAS loaded and explicitly set the field, which
	// the flag loop above only overwrites on an explicit -flag.
	if configPath == "" {
		cfg.Port = *port
		cfg.CacheSize = *cacheSize
		cfg.UpstreamAddr = *upstream
		cfg.HostsFile = *hostsFile
		cfg.DebugLevel = *debugLevel
		cfg.MetricsAddr = *metricsAddr
		cfg.RateLimitEnabled = *rateLimit
		cfg.RateQPS = *rateQPS
		cfg.RateBurst = *rateBurst
		cfg.RandomizeSourcePort = *randomizeSourcePort
	}

	return cfg, nil
}
