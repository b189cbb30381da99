package types

// DefaultBucketWidth is the aggregation bucket width in seconds (one hour).
const DefaultBucketWidth int64 = 3600

// FloorToBucket rounds ts down to the start of its bucket.
//
// This is a mathematical floor, not truncation toward zero: a negative
// timestamp lands in the bucket below it, so ts=-1 with width 3600 buckets
// to -3600, not 0. Truncation would make buckets straddling zero twice as
// wide and bucket membership inconsistent across the epoch.
func FloorToBucket(ts, width int64) int64 {
	r := ts % width
	if r < 0 {
		r += width
	}
	return ts - r
}

// BucketEnd returns the exclusive end of the bucket containing ts.
func BucketEnd(ts, width int64) int64 {
	return FloorToBucket(ts, width) + width
}
