// Package types defines the core data types flowing through the aggregation
// engine.
//
// Key types:
//   - Trade: A single timestamped trade (immutable)
//   - Diff: A trade paired with a signed multiplicity under a logical time
//   - GroupKey: The (hour bucket, category) pair aggregation is keyed by
//   - AggregateRecord: The maintained per-group maximum price
//   - OutputDiff: A signed change to the set of live aggregate records
package types
