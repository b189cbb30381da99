// Package engine implements the incremental group-reduce core: a sharded
// table of per-group price multisets and the recompute-and-diff routine
// that turns input diffs into aggregate-record diffs.
//
// The engine never rescans the input. Each batch is merged per group and
// per price first, every touched group recomputes its maximum once, and at
// most one retraction plus one insertion is emitted per group per batch,
// and only when the emitted value actually changed.
package engine

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/highwater/internal/logging"
	"github.com/xtxerr/highwater/internal/types"
)

var log = logging.Component("engine")

// DefaultShards is the default number of key-space shards.
const DefaultShards = 8

// Engine maintains the group table and produces output diffs for input
// batches. Different group keys never interact, so the key space is hash
// partitioned across shards and a batch is applied by all shards in
// parallel, each shard owning its keys exclusively.
type Engine struct {
	bucketWidth int64
	shards      []*shard

	// Statistics
	stats Stats
}

// Stats holds engine statistics.
type Stats struct {
	BatchesApplied atomic.Int64
	DiffsConsumed  atomic.Int64
	DiffsEmitted   atomic.Int64
	GroupsCreated  atomic.Int64
	GroupsRetired  atomic.Int64
}

// StatsSnapshot is a point-in-time copy of engine statistics.
type StatsSnapshot struct {
	BatchesApplied int64
	DiffsConsumed  int64
	DiffsEmitted   int64
	GroupsCreated  int64
	GroupsRetired  int64
	ActiveGroups   int
}

// shard owns a disjoint slice of the key space. Its mutex serializes batch
// application against point queries; no cross-shard synchronization exists.
type shard struct {
	mu     sync.Mutex
	groups map[types.GroupKey]*groupState
}

// New creates an engine with the given bucket width (seconds) and shard
// count. Non-positive arguments fall back to the defaults.
func New(bucketWidth int64, shardCount int) *Engine {
	if bucketWidth <= 0 {
		bucketWidth = types.DefaultBucketWidth
	}
	if shardCount <= 0 {
		shardCount = DefaultShards
	}

	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{groups: make(map[types.GroupKey]*groupState)}
	}

	return &Engine{
		bucketWidth: bucketWidth,
		shards:      shards,
	}
}

// BucketWidth returns the configured bucket width in seconds.
func (e *Engine) BucketWidth() int64 {
	return e.bucketWidth
}

// shardFor returns the shard owning the given key.
func (e *Engine) shardFor(key types.GroupKey) *shard {
	h := fnv.New64a()
	var buf [12]byte
	buf[0] = byte(key.Bucket)
	buf[1] = byte(key.Bucket >> 8)
	buf[2] = byte(key.Bucket >> 16)
	buf[3] = byte(key.Bucket >> 24)
	buf[4] = byte(key.Bucket >> 32)
	buf[5] = byte(key.Bucket >> 40)
	buf[6] = byte(key.Bucket >> 48)
	buf[7] = byte(key.Bucket >> 56)
	buf[8] = byte(key.Category)
	buf[9] = byte(key.Category >> 8)
	buf[10] = byte(key.Category >> 16)
	buf[11] = byte(key.Category >> 24)
	h.Write(buf[:])
	return e.shards[h.Sum64()%uint64(len(e.shards))]
}

// ApplyBatch consumes one committed batch and returns the resulting
// aggregate-record diffs, sorted by group key with each group's retraction
// before its insertion. The returned slice is independent of the order of
// diffs within the batch.
func (e *Engine) ApplyBatch(ctx context.Context, batch types.Batch) ([]types.OutputDiff, error) {
	if len(batch.Diffs) == 0 {
		return nil, nil
	}

	// Merge the whole batch per group and per price before any group
	// recomputes. One group recomputes at most once per batch no matter
	// how many diffs touched it.
	type shardWork map[types.GroupKey]map[string]priceDelta
	work := make(map[*shard]shardWork, len(e.shards))

	for _, d := range batch.Diffs {
		if d.Multiplicity == 0 {
			continue
		}
		key := d.Trade.GroupKey(e.bucketWidth)
		s := e.shardFor(key)

		byGroup, ok := work[s]
		if !ok {
			byGroup = make(shardWork)
			work[s] = byGroup
		}
		byPrice, ok := byGroup[key]
		if !ok {
			byPrice = make(map[string]priceDelta)
			byGroup[key] = byPrice
		}

		pk := d.Trade.Price.String()
		pd := byPrice[pk]
		pd.price = d.Trade.Price
		pd.mult += d.Multiplicity
		byPrice[pk] = pd
	}

	out := make([][]types.OutputDiff, 0, len(work))
	var outMu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for s, byGroup := range work {
		s, byGroup := s, byGroup
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			diffs := e.applyShard(s, byGroup, batch.LogicalTime)
			outMu.Lock()
			out = append(out, diffs)
			outMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var emitted []types.OutputDiff
	for _, diffs := range out {
		emitted = append(emitted, diffs...)
	}

	// Deterministic emission order: ascending group key, retraction
	// before insertion within a group.
	sort.Slice(emitted, func(i, j int) bool {
		ki, kj := emitted[i].Record.Key(), emitted[j].Record.Key()
		if ki != kj {
			return ki.Less(kj)
		}
		return emitted[i].Multiplicity < emitted[j].Multiplicity
	})

	e.stats.BatchesApplied.Add(1)
	e.stats.DiffsConsumed.Add(int64(len(batch.Diffs)))
	e.stats.DiffsEmitted.Add(int64(len(emitted)))

	log.Debug("batch applied",
		"logical_time", batch.LogicalTime,
		"diffs_in", len(batch.Diffs),
		"diffs_out", len(emitted))

	return emitted, nil
}

// applyShard applies one shard's slice of the batch under the shard lock.
func (e *Engine) applyShard(s *shard, byGroup map[types.GroupKey]map[string]priceDelta, logicalTime int64) []types.OutputDiff {
	s.mu.Lock()
	defer s.mu.Unlock()

	var emitted []types.OutputDiff

	for key, deltas := range byGroup {
		g, ok := s.groups[key]
		if !ok {
			g = newGroupState()
			s.groups[key] = g
			e.stats.GroupsCreated.Add(1)
		}

		wasLive, wasHigh := g.live, g.lastEmitted

		g.apply(deltas)
		high, nowLive := g.high()

		changed := wasLive != nowLive || (nowLive && !wasHigh.Equal(high))
		if changed {
			if wasLive {
				emitted = append(emitted, types.OutputDiff{
					Record:       types.AggregateRecord{Bucket: key.Bucket, Category: key.Category, High: wasHigh},
					Multiplicity: -1,
					LogicalTime:  logicalTime,
				})
			}
			if nowLive {
				emitted = append(emitted, types.OutputDiff{
					Record:       types.AggregateRecord{Bucket: key.Bucket, Category: key.Category, High: high},
					Multiplicity: +1,
					LogicalTime:  logicalTime,
				})
			}
			g.live = nowLive
			g.lastEmitted = high
		}

		// Groups with no entries left carry no state worth keeping.
		if g.empty() && !g.live {
			delete(s.groups, key)
			e.stats.GroupsRetired.Add(1)
		}
	}

	return emitted
}

// High returns the currently live aggregate value for the given key.
// A key with no current contributions returns ok=false; that is not an
// error condition.
func (e *Engine) High(key types.GroupKey) (decimal.Decimal, bool) {
	s := e.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[key]
	if !ok || !g.live {
		return decimal.Decimal{}, false
	}
	return g.lastEmitted, true
}

// ActiveGroups returns the number of groups holding state.
func (e *Engine) ActiveGroups() int {
	total := 0
	for _, s := range e.shards {
		s.mu.Lock()
		total += len(s.groups)
		s.mu.Unlock()
	}
	return total
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() StatsSnapshot {
	return StatsSnapshot{
		BatchesApplied: e.stats.BatchesApplied.Load(),
		DiffsConsumed:  e.stats.DiffsConsumed.Load(),
		DiffsEmitted:   e.stats.DiffsEmitted.Load(),
		GroupsCreated:  e.stats.GroupsCreated.Load(),
		GroupsRetired:  e.stats.GroupsRetired.Load(),
		ActiveGroups:   e.ActiveGroups(),
	}
}
