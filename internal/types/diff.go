package types

// Diff pairs a trade with a signed multiplicity under a logical time.
// A positive multiplicity inserts occurrences of the trade into the input
// multiset, a negative one retracts them. Diffs for identical trades
// accumulate by summing multiplicities.
type Diff struct {
	Trade        Trade
	Multiplicity int64
	LogicalTime  int64
}

// DeltaKind tags a Delta as an insertion or a retraction.
type DeltaKind int

const (
	// DeltaInsert adds one occurrence of a trade.
	DeltaInsert DeltaKind = iota
	// DeltaRetract removes one occurrence of a trade.
	DeltaRetract
)

// String returns a human-readable representation of the DeltaKind.
func (k DeltaKind) String() string {
	switch k {
	case DeltaInsert:
		return "insert"
	case DeltaRetract:
		return "retract"
	default:
		return "unknown"
	}
}

// Delta is the tagged insert/retract form of an input change. It is the
// shape external callers speak; it reduces to a signed Diff at the input
// session so multiplicity arithmetic never leaks into caller code.
type Delta struct {
	Kind  DeltaKind
	Trade Trade
}

// Insert builds an insertion Delta for the given trade.
func Insert(t Trade) Delta {
	return Delta{Kind: DeltaInsert, Trade: t}
}

// Retract builds a retraction Delta for the given trade.
func Retract(t Trade) Delta {
	return Delta{Kind: DeltaRetract, Trade: t}
}

// Multiplicity returns the signed multiplicity this delta reduces to.
func (d Delta) Multiplicity() int64 {
	if d.Kind == DeltaRetract {
		return -1
	}
	return 1
}

// Batch represents a collection of diffs committed under one logical time.
type Batch struct {
	LogicalTime int64
	Diffs       []Diff
}

// Len returns the number of diffs in the batch.
func (b *Batch) Len() int {
	return len(b.Diffs)
}
