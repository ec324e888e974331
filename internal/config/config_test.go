package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Port != 53 {
		t.Fatalf("Port = %d, want 53", cfg.Port)
	}
	if cfg.UpstreamAddr != "8.8.8.8:53" {
		t.Fatalf("UpstreamAddr = %q, want 8.8.8.8:53", cfg.UpstreamAddr)
	}
}

func TestParseFlagsOverrideDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, []string{"-port=5353", "-cache_size=256"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Port != 5353 {
		t.Fatalf("Port = %d, want 5353", cfg.Port)
	}
	if cfg.CacheSize != 256 {
		t.Fatalf("CacheSize = %d, want 256", cfg.CacheSize)
	}
}

func TestParseFileOverlayAndFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dnsward.yaml")
	contents := "port: 9999\ncache_size: 2048\ndns_server_ipaddr: \"1.1.1.1:53\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, []string{"-config=" + path, "-port=1111"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Port != 1111 {
		t.Fatalf("Port = %d, want 1111 (explicit flag should win over file)", cfg.Port)
	}
	if cfg.CacheSize != 2048 {
		t.Fatalf("CacheSize = %d, want 2048 (from file, no flag given)", cfg.CacheSize)
	}
	if cfg.UpstreamAddr != "1.1.1.1:53" {
		t.Fatalf("UpstreamAddr = %q, want 1.1.1.1:53 (from file)", cfg.UpstreamAddr)
	}
}

func TestParseRandomizeSourcePort(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, []string{"-randomize_source_port"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.RandomizeSourcePort {
		t.Fatal("RandomizeSourcePort = false, want true")
	}

	fs2 := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg2, err := Parse(fs2, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg2.RandomizeSourcePort {
		t.Fatal("RandomizeSourcePort default should be false")
	}
}
