// Package session implements the input side of the engine: diffs are
// staged under a pending logical time and become visible downstream only
// as one atomic batch when the session flushes.
package session

import (
	"context"
	"sync"

	"github.com/xtxerr/highwater/internal/errors"
	"github.com/xtxerr/highwater/internal/logging"
	"github.com/xtxerr/highwater/internal/types"
)

var log = logging.Component("session")

// BatchHandler consumes committed batches. The session guarantees the
// handler observes each batch exactly once, in logical-time order, and
// never sees staged-but-unflushed diffs.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch types.Batch) error
}

// BatchHandlerFunc adapts a function to the BatchHandler interface.
type BatchHandlerFunc func(ctx context.Context, batch types.Batch) error

// HandleBatch calls f.
func (f BatchHandlerFunc) HandleBatch(ctx context.Context, batch types.Batch) error {
	return f(ctx, batch)
}

// Session stages trade diffs and commits them in atomic batches under a
// monotonic logical clock.
type Session struct {
	mu sync.Mutex

	handler BatchHandler

	// staged coalesces diffs for identical trades by summing their
	// multiplicities, keyed by the trade's canonical key.
	staged map[string]*types.Diff

	// pending is the logical time the staged diffs will commit under.
	// committed is the logical time of the last flushed batch, or -1.
	pending   int64
	committed int64

	// maxCategory bounds accepted categories; 0 disables the check.
	maxCategory uint32

	closed bool
}

// New creates a session delivering committed batches to handler.
func New(handler BatchHandler, maxCategory uint32) *Session {
	return &Session{
		handler:     handler,
		staged:      make(map[string]*types.Diff),
		pending:     0,
		committed:   -1,
		maxCategory: maxCategory,
	}
}

// Insert stages a +1 diff for the trade at the pending logical time.
// The trade is validated here, before it can touch any engine state.
func (s *Session) Insert(t types.Trade) error {
	return s.Stage(types.Insert(t))
}

// Retract stages a -1 diff for the trade at the pending logical time.
func (s *Session) Retract(t types.Trade) error {
	return s.Stage(types.Retract(t))
}

// Stage stages a single delta. Validation failures reject only this
// record; previously staged diffs are untouched.
func (s *Session) Stage(d types.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrSessionClosed
	}
	if err := d.Trade.Validate(s.maxCategory); err != nil {
		return err
	}

	s.stageLocked(d.Trade, d.Multiplicity())
	return nil
}

// StageAll stages a batch of deltas, validating each record individually.
// Malformed records are reported through the returned slice, indexed into
// the input; the remaining records stage normally. A batch of N deltas
// with K failures stages N-K diffs.
func (s *Session) StageAll(deltas []types.Delta) []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		errs := make([]error, len(deltas))
		for i := range errs {
			errs[i] = errors.ErrSessionClosed
		}
		return errs
	}

	var rejected []error
	for i, d := range deltas {
		if err := d.Trade.Validate(s.maxCategory); err != nil {
			rejected = append(rejected, errors.NewRecordRejection(i, err))
			continue
		}
		s.stageLocked(d.Trade, d.Multiplicity())
	}
	return rejected
}

func (s *Session) stageLocked(t types.Trade, mult int64) {
	key := t.Key()
	if d, ok := s.staged[key]; ok {
		d.Multiplicity += mult
		if d.Multiplicity == 0 {
			delete(s.staged, key)
		}
		return
	}
	s.staged[key] = &types.Diff{Trade: t, Multiplicity: mult, LogicalTime: s.pending}
}

// AdvanceTo moves the pending logical time to t. It fails with an ordering
// error unless t is strictly greater than the last committed time; on
// failure no state changes.
func (s *Session) AdvanceTo(t int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrSessionClosed
	}
	if t <= s.committed {
		return errors.Wrapf(errors.ErrLogicalTimeRegression, "advance to %d, already committed %d", t, s.committed)
	}

	s.pending = t
	for _, d := range s.staged {
		d.LogicalTime = t
	}
	return nil
}

// Flush commits the staged diffs as one atomic batch at the pending time
// and clears the stage. The handler call happens under the session lock,
// so every downstream observation of the batch happens after the commit
// point and no later stage can interleave. Nothing downstream ever sees a
// partial batch.
//
// Flushing an empty stage still advances the committed time.
func (s *Session) Flush(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.ErrSessionClosed
	}

	diffs := make([]types.Diff, 0, len(s.staged))
	for _, d := range s.staged {
		diffs = append(diffs, *d)
	}

	batch := types.Batch{LogicalTime: s.pending, Diffs: diffs}
	if s.handler != nil && len(diffs) > 0 {
		if err := s.handler.HandleBatch(ctx, batch); err != nil {
			return 0, errors.Wrap(err, "handle batch")
		}
	}

	s.staged = make(map[string]*types.Diff)
	s.committed = s.pending
	s.pending = s.committed + 1

	log.Debug("flushed", "logical_time", batch.LogicalTime, "diffs", len(diffs))
	return len(diffs), nil
}

// Close marks the session closed. Already-flushed batches remain valid;
// staged diffs are discarded. There is no rollback.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.staged = nil
}

// StagedCount returns the number of distinct staged diffs.
func (s *Session) StagedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

// PendingTime returns the logical time the next flush will commit under.
func (s *Session) PendingTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// CommittedTime returns the last committed logical time, or -1 before the
// first flush.
func (s *Session) CommittedTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}
