package sink

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xtxerr/highwater/internal/errors"
	"github.com/xtxerr/highwater/internal/types"
)

func diff(bucket int64, category uint32, price string, mult int64) types.OutputDiff {
	return types.OutputDiff{
		Record: types.AggregateRecord{
			Bucket:   bucket,
			Category: category,
			High:     decimal.RequireFromString(price),
		},
		Multiplicity: mult,
		LogicalTime:  0,
	}
}

func TestTableSink_InsertRetractReplace(t *testing.T) {
	ts := NewTableSink()
	ctx := context.Background()

	if err := ts.Consume(ctx, []types.OutputDiff{diff(3600, 1, "10.50", +1)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	key := types.GroupKey{Bucket: 3600, Category: 1}
	if v, ok := ts.Get(key); !ok || !v.Equal(decimal.RequireFromString("10.50")) {
		t.Fatalf("Get = %v, %v", v, ok)
	}

	// A change arrives as retraction of the old record plus insertion of
	// the new one, in that order.
	err := ts.Consume(ctx, []types.OutputDiff{
		diff(3600, 1, "10.50", -1),
		diff(3600, 1, "12.00", +1),
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if v, _ := ts.Get(key); !v.Equal(decimal.RequireFromString("12.00")) {
		t.Errorf("high = %s, want 12.00", v)
	}
	if ts.Len() != 1 {
		t.Errorf("Len = %d, want 1", ts.Len())
	}

	// Retract back to empty.
	if err := ts.Consume(ctx, []types.OutputDiff{diff(3600, 1, "12.00", -1)}); err != nil {
		t.Fatalf("retract: %v", err)
	}
	if _, ok := ts.Get(key); ok {
		t.Error("expected empty group after retraction")
	}
	if ts.Len() != 0 {
		t.Errorf("Len = %d, want 0", ts.Len())
	}
}

func TestTableSink_ContractViolations(t *testing.T) {
	ctx := context.Background()

	t.Run("retract without live record", func(t *testing.T) {
		ts := NewTableSink()
		err := ts.Consume(ctx, []types.OutputDiff{diff(0, 1, "5.00", -1)})
		if !errors.Is(err, errors.ErrRetractNotLive) {
			t.Errorf("err = %v, want ErrRetractNotLive", err)
		}
	})

	t.Run("retract wrong value", func(t *testing.T) {
		ts := NewTableSink()
		if err := ts.Consume(ctx, []types.OutputDiff{diff(0, 1, "5.00", +1)}); err != nil {
			t.Fatal(err)
		}
		err := ts.Consume(ctx, []types.OutputDiff{diff(0, 1, "6.00", -1)})
		if !errors.Is(err, errors.ErrRetractNotLive) {
			t.Errorf("err = %v, want ErrRetractNotLive", err)
		}
	})

	t.Run("duplicate insert", func(t *testing.T) {
		ts := NewTableSink()
		if err := ts.Consume(ctx, []types.OutputDiff{diff(0, 1, "5.00", +1)}); err != nil {
			t.Fatal(err)
		}
		err := ts.Consume(ctx, []types.OutputDiff{diff(0, 1, "5.00", +1)})
		if !errors.Is(err, errors.ErrDuplicateLiveRecord) {
			t.Errorf("err = %v, want ErrDuplicateLiveRecord", err)
		}
	})

	t.Run("bad multiplicity", func(t *testing.T) {
		ts := NewTableSink()
		err := ts.Consume(ctx, []types.OutputDiff{diff(0, 1, "5.00", +2)})
		if !errors.Is(err, errors.ErrInternal) {
			t.Errorf("err = %v, want ErrInternal", err)
		}
	})
}

func TestTableSink_SnapshotSorted(t *testing.T) {
	ts := NewTableSink()
	ctx := context.Background()

	err := ts.Consume(ctx, []types.OutputDiff{
		diff(7200, 2, "3.00", +1),
		diff(3600, 5, "1.00", +1),
		diff(3600, 2, "2.00", +1),
	})
	if err != nil {
		t.Fatal(err)
	}

	snap := ts.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if !snap[i-1].Key().Less(snap[i].Key()) {
			t.Errorf("snapshot not sorted at %d: %v, %v", i, snap[i-1].Key(), snap[i].Key())
		}
	}
	if got := ts.Categories(); got != 2 {
		t.Errorf("Categories = %d, want 2", got)
	}
}

func TestMultiSink_FanOut(t *testing.T) {
	a := NewTableSink()
	b := NewTableSink()
	m := NewMultiSink(a, b)
	ctx := context.Background()

	if err := m.Consume(ctx, []types.OutputDiff{diff(0, 1, "9.99", +1)}); err != nil {
		t.Fatal(err)
	}
	for i, ts := range []*TableSink{a, b} {
		if ts.Len() != 1 {
			t.Errorf("sink %d len = %d, want 1", i, ts.Len())
		}
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
