// Package pipeline wires the input session, the group-reduce engine, and
// the downstream sinks into one running service.
//
// A flush on the session hands the staged batch to the engine; the
// resulting aggregate diffs go to every attached sink in order, then into
// the replay ring. Periodic snapshots export the materialized table to
// Parquet.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/highwater/config"
	"github.com/xtxerr/highwater/internal/buffer"
	"github.com/xtxerr/highwater/internal/engine"
	"github.com/xtxerr/highwater/internal/errors"
	"github.com/xtxerr/highwater/internal/generator"
	"github.com/xtxerr/highwater/internal/logging"
	"github.com/xtxerr/highwater/internal/session"
	"github.com/xtxerr/highwater/internal/sink"
	"github.com/xtxerr/highwater/internal/snapshot"
	"github.com/xtxerr/highwater/internal/stats"
	"github.com/xtxerr/highwater/internal/types"
)

var log = logging.Component("pipeline")

// Service owns the session, engine, sinks, replay ring, and the background
// snapshot worker.
type Service struct {
	mu sync.Mutex

	config *config.Config

	engine  *engine.Engine
	session *session.Session
	table   *sink.TableSink
	sinks   *sink.MultiSink
	ring    *buffer.Ring
	tracker *stats.Tracker

	writer    *snapshot.Writer
	retention *snapshot.Retention

	running atomic.Bool
	failed  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startTime time.Time
}

// New creates a pipeline from configuration. Extra sinks are attached
// after the materialized table and receive every committed batch.
func New(cfg *config.Config, extra ...sink.Sink) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(err, "ensure directories")
	}

	eng := engine.New(cfg.Engine.BucketWidthSec, cfg.Engine.Shards)
	table := sink.NewTableSink()
	ring := buffer.New(cfg.Server.ReplayBuffer)
	tracker := stats.NewTracker()

	all := append([]sink.Sink{table}, extra...)
	sinks := sink.NewMultiSink(all...)

	s := &Service{
		config:  cfg,
		engine:  eng,
		table:   table,
		sinks:   sinks,
		ring:    ring,
		tracker: tracker,
	}
	s.session = session.New(session.BatchHandlerFunc(s.handleBatch), cfg.Ingest.MaxCategory)

	if cfg.Snapshot.Enabled {
		opts := snapshot.Options{
			Compression: snapshot.ParseCompressionType(cfg.Snapshot.Compression),
		}

		w, err := snapshot.NewWriter(cfg.SnapshotDir(), opts)
		if err != nil {
			return nil, errors.Wrap(err, "create snapshot writer")
		}
		s.writer = w
		s.retention = snapshot.NewRetention(cfg.SnapshotDir(), cfg.Snapshot.Keep)
	}

	return s, nil
}

// handleBatch is the session's flush target. It applies the batch to the
// engine and distributes the emitted diffs. An engine error fails the
// flush cleanly: the session keeps its stage and a retry is safe. A sink
// error after the engine applied the batch is not retryable, because the
// kept stage would re-apply the batch to already-mutated group state; the
// pipeline marks itself failed and refuses further input. The ring is
// fed before the sinks so a subscription replay never trails a broadcast.
func (s *Service) handleBatch(ctx context.Context, batch types.Batch) error {
	start := time.Now()

	diffs, err := s.engine.ApplyBatch(ctx, batch)
	if err != nil {
		return errors.Wrap(err, "apply batch")
	}

	if len(diffs) > 0 {
		s.ring.PushAll(diffs)
		if err := s.sinks.Consume(ctx, diffs); err != nil {
			s.failed.Store(true)
			return errors.Wrap(err, "deliver diffs")
		}
	}

	for _, d := range batch.Diffs {
		if d.Multiplicity > 0 {
			s.tracker.ObservePrice(d.Trade.Price)
		}
	}
	s.tracker.ObserveBatch(time.Since(start))

	log.Debug("batch committed",
		"logical_time", batch.LogicalTime,
		"input_diffs", len(batch.Diffs),
		"output_diffs", len(diffs),
		"elapsed", time.Since(start))
	return nil
}

// Start starts the background workers.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.startTime = time.Now()

	if s.writer != nil {
		s.wg.Add(1)
		go s.snapshotWorker()
	}

	log.Info("pipeline started",
		"bucket_width_sec", s.config.Engine.BucketWidthSec,
		"shards", s.config.Engine.Shards,
		"snapshots", s.writer != nil)
	return nil
}

// Stop stops the workers, closes the session, and closes the sinks.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return errors.ErrNotRunning
	}

	s.cancel()
	s.wg.Wait()
	s.session.Close()

	if err := s.sinks.Close(); err != nil {
		return errors.Wrap(err, "close sinks")
	}

	log.Info("pipeline stopped", "uptime", time.Since(s.startTime))
	return nil
}

// AttachSink adds a sink to the fan-out. Call before Start.
func (s *Service) AttachSink(sk sink.Sink) {
	s.sinks.Add(sk)
}

// Session returns the input session. Callers stage inserts and
// retractions on it and commit with AdvanceTo followed by Flush.
func (s *Service) Session() *session.Session {
	return s.session
}

// Table returns the materialized aggregate table.
func (s *Service) Table() *sink.TableSink {
	return s.table
}

// Ring returns the output replay ring.
func (s *Service) Ring() *buffer.Ring {
	return s.ring
}

// Engine returns the group-reduce engine, for direct group lookups.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// Tracker returns the price and latency sketch tracker.
func (s *Service) Tracker() *stats.Tracker {
	return s.tracker
}

// Submit stages deltas on the session, advances the logical clock past
// the last committed time, and flushes in one call. Per-record rejections
// come back in rejected; the remaining records still commit.
func (s *Service) Submit(ctx context.Context, deltas []types.Delta) (committed int, rejected []error, err error) {
	if !s.running.Load() {
		return 0, nil, errors.ErrNotRunning
	}
	if s.failed.Load() {
		return 0, nil, errors.Wrap(errors.ErrInternal, "pipeline failed downstream")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rejected = s.session.StageAll(deltas)
	if err := s.session.AdvanceTo(s.session.CommittedTime() + 1); err != nil {
		return 0, rejected, err
	}
	committed, err = s.session.Flush(ctx)
	return committed, rejected, err
}

// RunGenerator drives the synthetic generator through the session in
// batches. It blocks until the generator finishes or ctx is cancelled.
func (s *Service) RunGenerator(ctx context.Context) error {
	if !s.running.Load() {
		return errors.ErrNotRunning
	}
	if s.failed.Load() {
		return errors.Wrap(errors.ErrInternal, "pipeline failed downstream")
	}

	gcfg := generator.Config{
		Trades:     s.config.Generator.Trades,
		Categories: s.config.Generator.Categories,
		StartTime:  s.config.Generator.StartTime,
		EndTime:    s.config.Generator.EndTime,
		Skew:       s.config.Generator.Skew,
		Seed:       s.config.Generator.Seed,
	}
	gen := generator.New(gcfg)

	batchSize := s.config.Ingest.BatchSize
	start := time.Now()
	total := 0

	log.Info("generator starting",
		"trades", gen.Total(),
		"categories", gcfg.Categories,
		"batch_size", batchSize)

	flush := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.session.AdvanceTo(s.session.CommittedTime() + 1); err != nil {
			return err
		}
		n, err := s.session.Flush(ctx)
		total += n
		return err
	}

	err := gen.Generate(ctx, func(t types.Trade) error {
		if err := s.session.Insert(t); err != nil {
			return err
		}
		if s.session.StagedCount() >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "generate")
	}
	if s.session.StagedCount() > 0 {
		if err := flush(); err != nil {
			return err
		}
	}

	es := s.engine.Stats()
	log.Info("generator finished",
		"trades", total,
		"elapsed", time.Since(start),
		"active_groups", s.engine.ActiveGroups(),
		"diffs_emitted", es.DiffsEmitted)
	return nil
}

// snapshotWorker exports the materialized table on a timer and prunes old
// snapshot files.
func (s *Service) snapshotWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Snapshot.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.writeSnapshot()
		}
	}
}

func (s *Service) writeSnapshot() {
	records := s.table.Snapshot()
	if len(records) == 0 {
		return
	}

	path, err := s.writer.Write(records)
	if err != nil {
		log.Error("snapshot write failed", "error", err)
		return
	}
	log.Info("snapshot written", "path", path, "records", len(records))

	if s.retention != nil {
		if n, err := s.retention.Run(); err != nil {
			log.Warn("snapshot retention failed", "error", err)
		} else if n > 0 {
			log.Debug("snapshot retention pruned files", "deleted", n)
		}
	}
}

// Snapshot writes one snapshot immediately, outside the timer. It returns
// the file path, or "" when the table is empty.
func (s *Service) Snapshot() (string, error) {
	if s.writer == nil {
		return "", errors.New("snapshots not enabled")
	}
	records := s.table.Snapshot()
	if len(records) == 0 {
		return "", nil
	}
	return s.writer.Write(records)
}

// Running reports whether the pipeline has been started.
func (s *Service) Running() bool {
	return s.running.Load()
}
