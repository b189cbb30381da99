// Configuration defaults for the highwater daemon.
//
// This file defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or CLI flags.
package config

import "time"

// =============================================================================
// Engine Defaults
// =============================================================================

const (
	// DefaultBucketWidthSec is the aggregation bucket width: one hour.
	// Override via config: engine.bucket_width_sec
	DefaultBucketWidthSec int64 = 3600

	// DefaultEngineShards is the number of key-space shards.
	// Groups never interact, so shards apply batches in parallel.
	// Override via config: engine.shards
	DefaultEngineShards = 8
)

// =============================================================================
// Ingest Defaults
// =============================================================================

const (
	// DefaultBatchSize is how many staged diffs the generator driver
	// commits per flush.
	// Override via config: ingest.batch_size
	DefaultBatchSize = 100_000
)

// =============================================================================
// Snapshot Defaults
// =============================================================================

const (
	// DefaultSnapshotInterval is the time between periodic Parquet
	// snapshots of the materialized table.
	// Override via config: snapshot.interval
	DefaultSnapshotInterval = 1 * time.Minute

	// DefaultSnapshotKeep is how many snapshot files are retained.
	// Override via config: snapshot.keep
	DefaultSnapshotKeep = 24
)

// =============================================================================
// Server Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default websocket listen address.
	// Override via config: server.listen
	DefaultListenAddress = "127.0.0.1:9245"

	// DefaultSendBufferSize is the capacity of the per-subscriber send
	// channel. Larger values tolerate slower clients.
	// Override via config: server.send_buffer
	DefaultSendBufferSize = 1000

	// DefaultSendTimeout is how long to wait on a full subscriber queue
	// before dropping the subscriber.
	// Override via config: server.send_timeout
	DefaultSendTimeout = 100 * time.Millisecond

	// DefaultReplayBufferSize is how many recent output diffs a new
	// subscriber catches up from.
	// Override via config: server.replay_buffer
	DefaultReplayBufferSize = 4096
)
