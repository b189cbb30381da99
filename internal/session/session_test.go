package session

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xtxerr/highwater/internal/errors"
	"github.com/xtxerr/highwater/internal/types"
)

type captureHandler struct {
	batches []types.Batch
	fail    error
}

func (h *captureHandler) HandleBatch(_ context.Context, b types.Batch) error {
	if h.fail != nil {
		return h.fail
	}
	h.batches = append(h.batches, b)
	return nil
}

func trade(ts int64, category uint32, price string) types.Trade {
	return types.Trade{Timestamp: ts, Category: category, Price: decimal.RequireFromString(price)}
}

func TestSession_StageAndFlush(t *testing.T) {
	h := &captureHandler{}
	s := New(h, 0)

	if err := s.Insert(trade(1717200000, 5, "10.00")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(trade(1717200500, 5, "15.00")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Nothing reaches downstream before flush.
	if len(h.batches) != 0 {
		t.Fatal("staged diffs must not be visible before flush")
	}
	if s.StagedCount() != 2 {
		t.Fatalf("StagedCount = %d, want 2", s.StagedCount())
	}

	n, err := s.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 2 {
		t.Errorf("flushed %d diffs, want 2", n)
	}
	if len(h.batches) != 1 {
		t.Fatalf("expected 1 batch downstream, got %d", len(h.batches))
	}
	if h.batches[0].LogicalTime != 0 {
		t.Errorf("logical time = %d, want 0", h.batches[0].LogicalTime)
	}
	if s.StagedCount() != 0 {
		t.Error("stage must be cleared after flush")
	}
	if s.CommittedTime() != 0 {
		t.Errorf("CommittedTime = %d, want 0", s.CommittedTime())
	}
}

// Diffs for identical trades accumulate by summing multiplicities; a net
// zero drops out of the stage entirely.
func TestSession_Coalescing(t *testing.T) {
	h := &captureHandler{}
	s := New(h, 0)

	tr := trade(1717200000, 5, "10.00")
	s.Insert(tr)
	s.Insert(tr)
	if s.StagedCount() != 1 {
		t.Fatalf("StagedCount = %d, want 1 coalesced diff", s.StagedCount())
	}

	s.Retract(tr)
	s.Retract(tr)
	if s.StagedCount() != 0 {
		t.Fatalf("StagedCount = %d, want 0 after cancellation", s.StagedCount())
	}

	s.Insert(tr)
	s.Insert(tr)
	if _, err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := h.batches[0].Diffs[0].Multiplicity; got != 2 {
		t.Errorf("coalesced multiplicity = %d, want 2", got)
	}
}

func TestSession_AdvanceToOrdering(t *testing.T) {
	h := &captureHandler{}
	s := New(h, 0)

	if err := s.AdvanceTo(5); err != nil {
		t.Fatalf("AdvanceTo(5): %v", err)
	}
	s.Insert(trade(1717200000, 1, "1.00"))
	if _, err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if h.batches[0].LogicalTime != 5 {
		t.Errorf("logical time = %d, want 5", h.batches[0].LogicalTime)
	}

	// Regressions and standstills fail; committed state is untouched.
	for _, bad := range []int64{5, 4, -1} {
		if err := s.AdvanceTo(bad); !errors.IsOrdering(err) {
			t.Errorf("AdvanceTo(%d) error = %v, want ordering error", bad, err)
		}
	}
	if s.CommittedTime() != 5 {
		t.Errorf("CommittedTime = %d, want 5 after failed advances", s.CommittedTime())
	}

	if err := s.AdvanceTo(6); err != nil {
		t.Errorf("AdvanceTo(6): %v", err)
	}
}

// A batch of N records with K malformed ones commits N-K and reports the K
// failures individually.
func TestSession_PartialRejection(t *testing.T) {
	h := &captureHandler{}
	s := New(h, 700)

	deltas := []types.Delta{
		types.Insert(trade(1717200000, 5, "10.00")),
		types.Insert(types.Trade{Timestamp: 1717200001, Category: 5, Price: decimal.RequireFromString("-3")}),
		types.Insert(trade(1717200002, 6, "11.00")),
		types.Insert(trade(1717200003, 900, "12.00")), // category out of range
		types.Insert(trade(1717200004, 7, "13.00")),
	}

	rejected := s.StageAll(deltas)
	if len(rejected) != 2 {
		t.Fatalf("expected 2 rejections, got %d: %v", len(rejected), rejected)
	}
	for _, err := range rejected {
		if !errors.IsRecordRejection(err) {
			t.Errorf("rejection %v is not a record rejection", err)
		}
	}

	n, err := s.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 3 {
		t.Errorf("committed %d diffs, want 3", n)
	}
}

func TestSession_PrecisionRejected(t *testing.T) {
	s := New(&captureHandler{}, 0)

	err := s.Insert(types.Trade{
		Timestamp: 1717200000,
		Category:  1,
		Price:     decimal.RequireFromString("1.0000000001"),
	})
	if !errors.Is(err, errors.ErrPrecisionLoss) {
		t.Errorf("error = %v, want ErrPrecisionLoss", err)
	}
	if s.StagedCount() != 0 {
		t.Error("rejected record must not be staged")
	}
}

func TestSession_HandlerFailureKeepsStage(t *testing.T) {
	h := &captureHandler{fail: errors.New("sink down")}
	s := New(h, 0)

	s.Insert(trade(1717200000, 1, "1.00"))
	if _, err := s.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}

	// Nothing committed, stage intact; a retry can succeed.
	if s.CommittedTime() != -1 {
		t.Errorf("CommittedTime = %d, want -1", s.CommittedTime())
	}
	if s.StagedCount() != 1 {
		t.Errorf("StagedCount = %d, want 1", s.StagedCount())
	}

	h.fail = nil
	if _, err := s.Flush(context.Background()); err != nil {
		t.Fatalf("retry Flush: %v", err)
	}
	if len(h.batches) != 1 {
		t.Fatalf("expected 1 batch after retry, got %d", len(h.batches))
	}
}

func TestSession_Closed(t *testing.T) {
	s := New(&captureHandler{}, 0)
	s.Close()

	if err := s.Insert(trade(1, 1, "1")); !errors.Is(err, errors.ErrSessionClosed) {
		t.Errorf("Insert after close = %v, want ErrSessionClosed", err)
	}
	if err := s.AdvanceTo(1); !errors.Is(err, errors.ErrSessionClosed) {
		t.Errorf("AdvanceTo after close = %v, want ErrSessionClosed", err)
	}
	if _, err := s.Flush(context.Background()); !errors.Is(err, errors.ErrSessionClosed) {
		t.Errorf("Flush after close = %v, want ErrSessionClosed", err)
	}
}
