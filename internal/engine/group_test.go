package engine

import (
	"testing"

	"github.com/shopspring/decimal"
)

func delta(price string, mult int64) priceDelta {
	return priceDelta{price: decimal.RequireFromString(price), mult: mult}
}

func applyOne(g *groupState, d priceDelta) {
	g.apply(map[string]priceDelta{d.price.String(): d})
}

func TestGroupState_CachedMax(t *testing.T) {
	g := newGroupState()

	applyOne(g, delta("10.00", 1))
	if h, ok := g.high(); !ok || !h.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("high = %s, %v; want 10.00", h, ok)
	}

	// Raising the max updates the cache without a rescan.
	applyOne(g, delta("20.00", 1))
	if !g.maxValid {
		t.Error("cache must stay valid when a higher price arrives")
	}
	if h, _ := g.high(); !h.Equal(decimal.RequireFromString("20.00")) {
		t.Errorf("high = %s, want 20.00", h)
	}

	// A lower insertion leaves the cache untouched.
	applyOne(g, delta("5.00", 1))
	if !g.maxValid {
		t.Error("cache must stay valid for non-max insertions")
	}

	// Removing a non-max entry leaves the cache untouched.
	applyOne(g, delta("5.00", -1))
	if !g.maxValid {
		t.Error("cache must stay valid when a non-max entry is removed")
	}

	// Removing the max invalidates the cache; the next read rescans.
	applyOne(g, delta("20.00", -1))
	if g.maxValid {
		t.Error("cache must be invalidated when the max is removed")
	}
	if h, ok := g.high(); !ok || !h.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("high after rescan = %s, %v; want 10.00", h, ok)
	}
	if !g.maxValid {
		t.Error("rescan must repopulate the cache")
	}
}

func TestGroupState_DuplicateMaxCountsDown(t *testing.T) {
	g := newGroupState()

	applyOne(g, delta("30.00", 2))
	if _, ok := g.high(); !ok {
		t.Fatal("expected a high after insertion")
	}

	applyOne(g, delta("30.00", -1))

	// Still one positive instance; the cache must survive.
	if !g.maxValid {
		t.Error("cache must stay valid while the max entry stays positive")
	}
	if h, ok := g.high(); !ok || !h.Equal(decimal.RequireFromString("30.00")) {
		t.Errorf("high = %s, %v; want 30.00", h, ok)
	}
}

func TestGroupState_ZeroPruned(t *testing.T) {
	g := newGroupState()

	applyOne(g, delta("7.00", 1))
	applyOne(g, delta("7.00", -1))

	if !g.empty() {
		t.Error("entry at net zero must be pruned")
	}
	if _, ok := g.high(); ok {
		t.Error("empty group must have no high")
	}
}

func TestGroupState_NegativeEntryKept(t *testing.T) {
	g := newGroupState()

	applyOne(g, delta("7.00", -1))
	if g.empty() {
		t.Fatal("negative entry must be kept to cancel a later insertion")
	}
	if _, ok := g.high(); ok {
		t.Error("negative-only group must have no high")
	}

	applyOne(g, delta("7.00", 1))
	if !g.empty() {
		t.Error("insertion must cancel the negative entry")
	}
}
