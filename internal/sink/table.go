package sink

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/xtxerr/highwater/internal/errors"
	"github.com/xtxerr/highwater/internal/types"
)

// TableSink materializes the diff stream into a table keyed by group.
// Applying every emitted diff in order keeps the table equal to the set of
// currently live aggregate records, which is exactly the materialized-view
// reading of the stream.
//
// The sink also enforces the stream's contract: at most one live record
// per group, retractions only of the record actually live. A violation is
// an engine bug and fails the batch loudly.
type TableSink struct {
	mu   sync.RWMutex
	rows map[types.GroupKey]decimal.Decimal
}

// NewTableSink creates an empty table.
func NewTableSink() *TableSink {
	return &TableSink{rows: make(map[types.GroupKey]decimal.Decimal)}
}

// Consume applies one batch of diffs to the table.
func (t *TableSink) Consume(_ context.Context, diffs []types.OutputDiff) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, d := range diffs {
		key := d.Record.Key()
		switch d.Multiplicity {
		case -1:
			current, ok := t.rows[key]
			if !ok || !current.Equal(d.Record.High) {
				return errors.Wrapf(errors.ErrRetractNotLive, "group %s high %s", key, d.Record.High)
			}
			delete(t.rows, key)
		case +1:
			if _, ok := t.rows[key]; ok {
				return errors.Wrapf(errors.ErrDuplicateLiveRecord, "group %s", key)
			}
			t.rows[key] = d.Record.High
		default:
			return errors.Wrapf(errors.ErrInternal, "multiplicity %d", d.Multiplicity)
		}
	}
	return nil
}

// Close implements Sink.
func (t *TableSink) Close() error { return nil }

// Get returns the live high for a group. A group with no live record
// returns ok=false.
func (t *TableSink) Get(key types.GroupKey) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[key]
	return v, ok
}

// Len returns the number of live records.
func (t *TableSink) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Snapshot returns all live records sorted by group key.
func (t *TableSink) Snapshot() []types.AggregateRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	records := make([]types.AggregateRecord, 0, len(t.rows))
	for key, high := range t.rows {
		records = append(records, types.AggregateRecord{
			Bucket:   key.Bucket,
			Category: key.Category,
			High:     high,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key().Less(records[j].Key())
	})
	return records
}

// Categories returns the number of distinct categories with at least one
// live record.
func (t *TableSink) Categories() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[uint32]struct{})
	for key := range t.rows {
		seen[key.Category] = struct{}{}
	}
	return len(seen)
}
