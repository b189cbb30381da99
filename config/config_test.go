package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Engine.BucketWidthSec != 3600 {
		t.Errorf("bucket width = %d, want 3600", cfg.Engine.BucketWidthSec)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
data_dir: /tmp/highwater
logging:
  level: debug
engine:
  bucket_width_sec: 1800
  shards: 4
generator:
  enabled: true
  trades: 1000
  categories: 10
  start_time: 0
  end_time: 86400
  skew: 1.3
snapshot:
  enabled: true
  interval: 30s
  compression: snappy
  keep: 5
server:
  enabled: true
  listen: "127.0.0.1:9999"
  send_timeout: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Engine.BucketWidthSec != 1800 {
		t.Errorf("bucket width = %d, want 1800", cfg.Engine.BucketWidthSec)
	}
	if cfg.Snapshot.Interval != 30*time.Second {
		t.Errorf("snapshot interval = %v, want 30s", cfg.Snapshot.Interval)
	}
	if cfg.Server.SendTimeout != 250*time.Millisecond {
		t.Errorf("send timeout = %v, want 250ms", cfg.Server.SendTimeout)
	}

	// Unset fields keep their defaults.
	if cfg.Server.SendBuffer != DefaultSendBufferSize {
		t.Errorf("send buffer = %d, want default %d", cfg.Server.SendBuffer, DefaultSendBufferSize)
	}
	if cfg.SnapshotDir() != filepath.Join("/tmp/highwater", "snapshots") {
		t.Errorf("snapshot dir = %s", cfg.SnapshotDir())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	// Callers fall back to defaults on a missing file; the wrapped open
	// error must stay matchable.
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, does not match fs.ErrNotExist", err)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("HIGHWATER_DATA", "/var/lib/hw")

	if err := os.WriteFile(path, []byte("data_dir: ${HIGHWATER_DATA}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/var/lib/hw" {
		t.Errorf("data_dir = %s, want /var/lib/hw", cfg.DataDir)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"zero bucket width", func(c *Config) { c.Engine.BucketWidthSec = 0 }},
		{"negative shards", func(c *Config) { c.Engine.Shards = -1 }},
		{"zero batch size", func(c *Config) { c.Ingest.BatchSize = 0 }},
		{"generator without trades", func(c *Config) {
			c.Generator.Enabled = true
			c.Generator.Trades = 0
		}},
		{"generator bad time range", func(c *Config) {
			c.Generator.Enabled = true
			c.Generator.StartTime = 100
			c.Generator.EndTime = 100
		}},
		{"snapshot zero interval", func(c *Config) {
			c.Snapshot.Enabled = true
			c.Snapshot.Interval = 0
		}},
		{"server empty listen", func(c *Config) {
			c.Server.Enabled = true
			c.Server.Listen = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
