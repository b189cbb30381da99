package buffer

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xtxerr/highwater/internal/types"
)

func d(logicalTime int64, category uint32) types.OutputDiff {
	return types.OutputDiff{
		Record:       types.AggregateRecord{Bucket: 3600, Category: category, High: decimal.NewFromInt(1)},
		Multiplicity: 1,
		LogicalTime:  logicalTime,
	}
}

func TestRing_PushAndAll(t *testing.T) {
	rb := New(4)

	for i := int64(0); i < 3; i++ {
		rb.Push(d(i, uint32(i)))
	}

	if rb.Len() != 3 {
		t.Fatalf("Len = %d, want 3", rb.Len())
	}

	all := rb.All()
	for i, diff := range all {
		if diff.LogicalTime != int64(i) {
			t.Errorf("position %d: logical time %d, want %d", i, diff.LogicalTime, i)
		}
	}
}

func TestRing_OverwritesOldest(t *testing.T) {
	rb := New(3)

	for i := int64(0); i < 5; i++ {
		rb.Push(d(i, 0))
	}

	if rb.Len() != 3 {
		t.Fatalf("Len = %d, want 3", rb.Len())
	}
	if rb.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", rb.Dropped())
	}

	all := rb.All()
	if all[0].LogicalTime != 2 || all[2].LogicalTime != 4 {
		t.Errorf("expected logical times 2..4, got %v..%v", all[0].LogicalTime, all[2].LogicalTime)
	}
}

func TestRing_Since(t *testing.T) {
	rb := New(10)
	for i := int64(0); i < 6; i++ {
		rb.Push(d(i, 0))
	}

	got := rb.Since(3)
	if len(got) != 2 {
		t.Fatalf("Since(3) returned %d diffs, want 2", len(got))
	}
	if got[0].LogicalTime != 4 || got[1].LogicalTime != 5 {
		t.Errorf("Since(3) = times %d,%d; want 4,5", got[0].LogicalTime, got[1].LogicalTime)
	}

	if got := rb.Since(100); len(got) != 0 {
		t.Errorf("Since past the end returned %d diffs", len(got))
	}
}

func TestRing_Clear(t *testing.T) {
	rb := New(4)
	rb.PushAll([]types.OutputDiff{d(0, 0), d(1, 1)})
	rb.Clear()

	if rb.Len() != 0 {
		t.Errorf("Len after Clear = %d", rb.Len())
	}
	if len(rb.All()) != 0 {
		t.Error("All after Clear should be empty")
	}
}
