// Package generator produces synthetic trades for load generation and
// demos. Trades are skewed across categories by a power law and uniform in
// time and price, with deterministic output under a fixed seed.
package generator

import (
	"context"
	"math"
	"math/rand"

	"github.com/shopspring/decimal"
	"github.com/xtxerr/highwater/internal/types"
)

// Defaults matching the reference workload: 20M trades over 700 categories
// across June-December 2024.
const (
	DefaultTrades     = 20_000_000
	DefaultCategories = 700
	DefaultStartTime  = 1717192800 // 2024-06-01 00:00:00 UTC
	DefaultEndTime    = 1735599599 // 2024-12-31 23:59:59 UTC
	DefaultSkew       = 1.3
)

// Price bounds in cents: uniform in [1.00, 100000.00).
const (
	minPriceCents = 100
	maxPriceCents = 10_000_000
)

// Config configures a Generator.
type Config struct {
	// Trades is the total number of trades to generate.
	Trades int

	// Categories is the number of distinct categories.
	Categories int

	// StartTime and EndTime bound trade timestamps (Unix seconds,
	// inclusive).
	StartTime int64
	EndTime   int64

	// Skew is the power-law exponent: category i (1-based) gets weight
	// proportional to i^-Skew.
	Skew float64

	// Seed seeds the random source. The same seed yields the same
	// trades.
	Seed int64
}

// DefaultConfig returns the reference workload configuration.
func DefaultConfig() Config {
	return Config{
		Trades:     DefaultTrades,
		Categories: DefaultCategories,
		StartTime:  DefaultStartTime,
		EndTime:    DefaultEndTime,
		Skew:       DefaultSkew,
	}
}

// Generator produces synthetic trades.
type Generator struct {
	cfg    Config
	rng    *rand.Rand
	counts []int
}

// New creates a generator. The per-category trade counts are fixed at
// construction: count_i = round(weight_i * Trades) with normalized
// power-law weights, so the realized distribution is exact, not sampled.
func New(cfg Config) *Generator {
	if cfg.Trades <= 0 {
		cfg.Trades = DefaultTrades
	}
	if cfg.Categories <= 0 {
		cfg.Categories = DefaultCategories
	}
	if cfg.EndTime <= cfg.StartTime {
		cfg.StartTime = DefaultStartTime
		cfg.EndTime = DefaultEndTime
	}
	if cfg.Skew <= 0 {
		cfg.Skew = DefaultSkew
	}

	weights := make([]float64, cfg.Categories)
	sum := 0.0
	for i := range weights {
		weights[i] = 1.0 / math.Pow(float64(i+1), cfg.Skew)
		sum += weights[i]
	}

	counts := make([]int, cfg.Categories)
	for i, w := range weights {
		counts[i] = int(math.Round(w / sum * float64(cfg.Trades)))
	}

	return &Generator{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		counts: counts,
	}
}

// Counts returns the per-category trade counts.
func (g *Generator) Counts() []int {
	out := make([]int, len(g.counts))
	copy(out, g.counts)
	return out
}

// Total returns the total number of trades the generator will produce.
// Rounding makes this differ from Config.Trades by at most Categories/2.
func (g *Generator) Total() int {
	total := 0
	for _, c := range g.counts {
		total += c
	}
	return total
}

// next produces one trade for the given category.
func (g *Generator) next(category uint32) types.Trade {
	span := g.cfg.EndTime - g.cfg.StartTime + 1
	cents := minPriceCents + g.rng.Int63n(maxPriceCents-minPriceCents)

	return types.Trade{
		Timestamp: g.cfg.StartTime + g.rng.Int63n(span),
		Category:  category,
		Price:     decimal.New(cents, -2),
	}
}

// Generate emits every trade, category by category, to fn. Generation
// stops early if fn returns an error or the context is cancelled.
func (g *Generator) Generate(ctx context.Context, fn func(types.Trade) error) error {
	for category, count := range g.counts {
		for i := 0; i < count; i++ {
			if i%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			if err := fn(g.next(uint32(category))); err != nil {
				return err
			}
		}
	}
	return nil
}
