package types

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Price bounds for validation. Prices are exact decimals; the scale cap
// rejects values whose precision could not round-trip through storage.
const (
	// MaxPriceScale is the maximum number of fractional digits a price may
	// carry. Anything finer is rejected at ingestion, never truncated.
	MaxPriceScale = 8

	// MaxPriceDigits is the maximum number of significant digits in a price.
	MaxPriceDigits = 20
)

// Trade represents a single trade. A Trade is immutable once constructed;
// the engine only ever copies it.
type Trade struct {
	// Timestamp is the trade time in Unix seconds.
	Timestamp int64

	// Category is the market/category identifier.
	Category uint32

	// Price is the exact decimal trade price.
	Price decimal.Decimal
}

// Key returns a canonical identifier for this exact trade value.
// Two trades with equal timestamp, category, and price share a key, which is
// what lets diffs for identical trades accumulate by multiplicity.
func (t *Trade) Key() string {
	return strconv.FormatInt(t.Timestamp, 10) + "/" +
		strconv.FormatUint(uint64(t.Category), 10) + "/" +
		t.Price.String()
}

// Time returns the trade timestamp as a time.Time.
func (t *Trade) Time() time.Time {
	return time.Unix(t.Timestamp, 0).UTC()
}

// GroupKey derives the aggregation key for this trade under the given
// bucket width.
func (t *Trade) GroupKey(bucketWidth int64) GroupKey {
	return GroupKey{
		Bucket:   FloorToBucket(t.Timestamp, bucketWidth),
		Category: t.Category,
	}
}
