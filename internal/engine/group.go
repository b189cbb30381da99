package engine

import (
	"github.com/shopspring/decimal"
)

// priceDelta is the merged net multiplicity change for one distinct price
// within one batch. All diffs for the same (group, price) are folded into a
// single delta before the group recomputes.
type priceDelta struct {
	price decimal.Decimal
	mult  int64
}

// priceCount is one entry of a group's multiset: a distinct price and its
// current net multiplicity. Entries are pruned when the net reaches zero;
// a negative net (retraction ahead of its insertion) is kept so the later
// insertion cancels correctly.
type priceCount struct {
	price decimal.Decimal
	mult  int64
}

// groupState holds the mutable per-group aggregation state. It is owned by
// exactly one shard; the shard's lock is the only synchronization.
type groupState struct {
	// counts maps canonical price string -> entry.
	counts map[string]*priceCount

	// Cached maximum over positive-multiplicity entries. Only a full
	// rescan when the cached maximum itself is removed; any other
	// mutation updates it in place.
	max      decimal.Decimal
	maxValid bool

	// Last emitted aggregate value for this group, if any. live is false
	// when the group has never emitted or its record was retired.
	lastEmitted decimal.Decimal
	live        bool
}

func newGroupState() *groupState {
	return &groupState{counts: make(map[string]*priceCount)}
}

// empty reports whether the multiset has no entries at all.
func (g *groupState) empty() bool {
	return len(g.counts) == 0
}

// apply merges the batch's per-price deltas into the multiset and refreshes
// the cached maximum.
func (g *groupState) apply(deltas map[string]priceDelta) {
	for key, d := range deltas {
		if d.mult == 0 {
			continue
		}

		pc, ok := g.counts[key]
		if !ok {
			pc = &priceCount{price: d.price}
			g.counts[key] = pc
		}

		wasPositive := pc.mult > 0
		pc.mult += d.mult

		if pc.mult == 0 {
			delete(g.counts, key)
		}

		nowPositive := pc.mult > 0
		switch {
		case nowPositive && !wasPositive:
			// Entry joined the positive set; it can only raise the
			// cached maximum.
			if g.maxValid && pc.price.GreaterThan(g.max) {
				g.max = pc.price
			}
		case wasPositive && !nowPositive:
			// Entry left the positive set; if it held the maximum the
			// cache is stale and the next read rescans.
			if g.maxValid && pc.price.Equal(g.max) {
				g.maxValid = false
			}
		}
	}
}

// high returns the current maximum over positive-multiplicity prices, or
// ok=false when no price has positive net multiplicity. Rescans only when
// the cached maximum was invalidated.
func (g *groupState) high() (decimal.Decimal, bool) {
	if g.maxValid {
		return g.max, true
	}

	found := false
	var best decimal.Decimal
	for _, pc := range g.counts {
		if pc.mult <= 0 {
			continue
		}
		if !found || pc.price.GreaterThan(best) {
			best = pc.price
			found = true
		}
	}

	if found {
		g.max = best
		g.maxValid = true
	}
	return best, found
}
