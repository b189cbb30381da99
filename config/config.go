// Package config provides configuration loading, defaults, and validation
// for the highwater daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	// DataDir is the root directory for snapshot files.
	DataDir string `yaml:"data_dir"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Engine configures the group-reduce engine.
	Engine EngineConfig `yaml:"engine"`

	// Ingest configures input validation and batching.
	Ingest IngestConfig `yaml:"ingest"`

	// Generator configures the synthetic trade generator.
	Generator GeneratorConfig `yaml:"generator"`

	// Snapshot configures Parquet snapshots of the materialized table.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Server configures the websocket service surface.
	Server ServerConfig `yaml:"server"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// JSON switches output from text to JSON.
	JSON bool `yaml:"json"`
}

// EngineConfig configures the group-reduce engine.
type EngineConfig struct {
	// BucketWidthSec is the aggregation bucket width in seconds.
	BucketWidthSec int64 `yaml:"bucket_width_sec"`

	// Shards is the number of key-space shards applied in parallel.
	Shards int `yaml:"shards"`
}

// IngestConfig configures input validation and batching.
type IngestConfig struct {
	// MaxCategory rejects trades with a category at or above this value.
	// 0 disables the check.
	MaxCategory uint32 `yaml:"max_category"`

	// BatchSize is the number of staged diffs per flush when driving
	// the session from the generator.
	BatchSize int `yaml:"batch_size"`
}

// GeneratorConfig configures the synthetic trade generator.
type GeneratorConfig struct {
	// Enabled runs the generator on startup.
	Enabled bool `yaml:"enabled"`

	// Trades is the total number of trades to generate.
	Trades int `yaml:"trades"`

	// Categories is the number of distinct categories.
	Categories int `yaml:"categories"`

	// StartTime and EndTime bound trade timestamps (Unix seconds).
	StartTime int64 `yaml:"start_time"`
	EndTime   int64 `yaml:"end_time"`

	// Skew is the power-law exponent of the category distribution.
	Skew float64 `yaml:"skew"`

	// Seed seeds the random source; the same seed replays identical
	// trades.
	Seed int64 `yaml:"seed"`
}

// SnapshotConfig configures Parquet snapshots.
type SnapshotConfig struct {
	// Enabled turns snapshotting on.
	Enabled bool `yaml:"enabled"`

	// Interval is the time between periodic snapshots.
	Interval time.Duration `yaml:"interval"`

	// Compression is one of "none", "snappy", "zstd", "lz4", "gzip".
	Compression string `yaml:"compression"`

	// Keep is the number of snapshot files retained; older files are
	// pruned. 0 keeps everything.
	Keep int `yaml:"keep"`
}

// ServerConfig configures the websocket service surface.
type ServerConfig struct {
	// Enabled turns the server on.
	Enabled bool `yaml:"enabled"`

	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// SendBuffer is the per-subscriber send queue capacity.
	SendBuffer int `yaml:"send_buffer"`

	// SendTimeout is how long a full subscriber queue blocks before the
	// subscriber is dropped.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// ReplayBuffer is how many recent output diffs new subscribers
	// catch up from.
	ReplayBuffer int `yaml:"replay_buffer"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Logging: LoggingConfig{
			Level: "info",
		},
		Engine: EngineConfig{
			BucketWidthSec: DefaultBucketWidthSec,
			Shards:         DefaultEngineShards,
		},
		Ingest: IngestConfig{
			MaxCategory: 0,
			BatchSize:   DefaultBatchSize,
		},
		Generator: GeneratorConfig{
			Enabled:    false,
			Trades:     20_000_000,
			Categories: 700,
			StartTime:  1717192800,
			EndTime:    1735599599,
			Skew:       1.3,
		},
		Snapshot: SnapshotConfig{
			Enabled:     false,
			Interval:    DefaultSnapshotInterval,
			Compression: "zstd",
			Keep:        DefaultSnapshotKeep,
		},
		Server: ServerConfig{
			Enabled:      false,
			Listen:       DefaultListenAddress,
			SendBuffer:   DefaultSendBufferSize,
			SendTimeout:  DefaultSendTimeout,
			ReplayBuffer: DefaultReplayBufferSize,
		},
	}
}

// Load loads configuration from a YAML file, expanding environment
// variables and overlaying the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Engine.BucketWidthSec <= 0 {
		errs = append(errs, errors.New("engine.bucket_width_sec must be positive"))
	}
	if c.Engine.Shards <= 0 {
		errs = append(errs, errors.New("engine.shards must be positive"))
	}
	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, errors.New("ingest.batch_size must be positive"))
	}
	if c.Generator.Enabled {
		if c.Generator.Trades <= 0 {
			errs = append(errs, errors.New("generator.trades must be positive"))
		}
		if c.Generator.Categories <= 0 {
			errs = append(errs, errors.New("generator.categories must be positive"))
		}
		if c.Generator.EndTime <= c.Generator.StartTime {
			errs = append(errs, errors.New("generator.end_time must be after start_time"))
		}
		if c.Generator.Skew <= 0 {
			errs = append(errs, errors.New("generator.skew must be positive"))
		}
	}
	if c.Snapshot.Enabled {
		if c.Snapshot.Interval <= 0 {
			errs = append(errs, errors.New("snapshot.interval must be positive"))
		}
		if c.Snapshot.Keep < 0 {
			errs = append(errs, errors.New("snapshot.keep must not be negative"))
		}
	}
	if c.Server.Enabled {
		if c.Server.Listen == "" {
			errs = append(errs, errors.New("server.listen is required"))
		}
		if c.Server.SendBuffer <= 0 {
			errs = append(errs, errors.New("server.send_buffer must be positive"))
		}
		if c.Server.SendTimeout <= 0 {
			errs = append(errs, errors.New("server.send_timeout must be positive"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SnapshotDir returns the directory snapshot files are written to.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.DataDir, "snapshots")
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.SnapshotDir(), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	return nil
}
