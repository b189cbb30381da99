// Package stats tracks distribution diagnostics for the pipeline: the
// spread of observed trade prices and per-batch apply latency.
//
// Sketches are approximate by construction and diagnostic only; nothing in
// the aggregation path reads them. Prices are folded in as float64, which
// is fine at 1% relative accuracy.
package stats

import (
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/shopspring/decimal"
)

// DefaultAccuracy is the DDSketch relative accuracy (1% error).
const DefaultAccuracy = 0.01

// Tracker maintains streaming distribution sketches.
type Tracker struct {
	mu sync.Mutex

	prices  *ddsketch.DDSketch
	latency *ddsketch.DDSketch

	priceCount int64
	batchCount int64
}

// NewTracker creates a tracker with the default accuracy.
func NewTracker() *Tracker {
	return NewTrackerWithAccuracy(DefaultAccuracy)
}

// NewTrackerWithAccuracy creates a tracker with a custom relative accuracy.
func NewTrackerWithAccuracy(accuracy float64) *Tracker {
	t := &Tracker{}
	if s, err := ddsketch.NewDefaultDDSketch(accuracy); err == nil {
		t.prices = s
	}
	if s, err := ddsketch.NewDefaultDDSketch(accuracy); err == nil {
		t.latency = s
	}
	return t
}

// ObservePrice folds one trade price into the price sketch.
func (t *Tracker) ObservePrice(p decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.prices != nil {
		f, _ := p.Float64()
		t.prices.Add(f)
	}
	t.priceCount++
}

// ObserveBatch folds one batch apply duration into the latency sketch.
func (t *Tracker) ObserveBatch(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.latency != nil {
		t.latency.Add(d.Seconds())
	}
	t.batchCount++
}

// Snapshot is a point-in-time summary of the tracked distributions.
type Snapshot struct {
	PriceCount int64
	BatchCount int64

	PriceP50 float64
	PriceP99 float64
	PriceMax float64

	LatencyP50 time.Duration
	LatencyP99 time.Duration
}

// Snapshot returns the current distribution summary. Quantiles of empty
// sketches are zero.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		PriceCount: t.priceCount,
		BatchCount: t.batchCount,
	}

	if t.prices != nil && t.priceCount > 0 {
		s.PriceP50, _ = t.prices.GetValueAtQuantile(0.50)
		s.PriceP99, _ = t.prices.GetValueAtQuantile(0.99)
		s.PriceMax, _ = t.prices.GetMaxValue()
	}
	if t.latency != nil && t.batchCount > 0 {
		p50, _ := t.latency.GetValueAtQuantile(0.50)
		p99, _ := t.latency.GetValueAtQuantile(0.99)
		s.LatencyP50 = time.Duration(p50 * float64(time.Second))
		s.LatencyP99 = time.Duration(p99 * float64(time.Second))
	}

	return s
}
