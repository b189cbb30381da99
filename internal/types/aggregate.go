package types

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// GroupKey identifies one aggregation group: all trades whose timestamp
// falls in the same bucket and whose category matches.
type GroupKey struct {
	// Bucket is the bucket start in Unix seconds.
	Bucket int64

	// Category is the market/category identifier.
	Category uint32
}

// String returns a human-readable representation of the key.
func (k GroupKey) String() string {
	return strconv.FormatInt(k.Bucket, 10) + "/" + strconv.FormatUint(uint64(k.Category), 10)
}

// Less orders keys by bucket, then category. Emission order within a batch
// follows this ordering so output is deterministic.
func (k GroupKey) Less(other GroupKey) bool {
	if k.Bucket != other.Bucket {
		return k.Bucket < other.Bucket
	}
	return k.Category < other.Category
}

// BucketTime returns the bucket start as a time.Time.
func (k GroupKey) BucketTime() time.Time {
	return time.Unix(k.Bucket, 0).UTC()
}

// AggregateRecord is the maintained aggregate for one group: the maximum
// price among trades currently present with positive net multiplicity.
// A group whose multiset is empty has no AggregateRecord at all.
type AggregateRecord struct {
	Bucket   int64
	Category uint32
	High     decimal.Decimal
}

// Key returns the group key this record belongs to.
func (a *AggregateRecord) Key() GroupKey {
	return GroupKey{Bucket: a.Bucket, Category: a.Category}
}

// Equal reports whether two records carry the same group and value.
// Prices compare by numeric value, not representation: 15.0 equals 15.00.
func (a *AggregateRecord) Equal(other *AggregateRecord) bool {
	return a.Bucket == other.Bucket &&
		a.Category == other.Category &&
		a.High.Equal(other.High)
}

// OutputDiff is one signed change to the set of live aggregate records.
// Multiplicity is -1 (retract the exact previously emitted record) or +1
// (this record now holds).
type OutputDiff struct {
	Record       AggregateRecord
	Multiplicity int64
	LogicalTime  int64
}
