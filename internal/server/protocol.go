package server

import (
	"github.com/xtxerr/highwater/internal/errors"
	"github.com/xtxerr/highwater/internal/types"
)

// =============================================================================
// Wire frames
// =============================================================================

// Frame types, carried in the "type" field of every frame.
const (
	FrameSubmit    = "submit"
	FrameSubscribe = "subscribe"
	FrameAck       = "ack"
	FrameDiffs     = "diffs"
	FrameError     = "error"
)

// ClientFrame is any frame received from a client.
type ClientFrame struct {
	Type string `json:"type"`

	// Submit fields.
	Records []WireRecord `json:"records,omitempty"`

	// Subscribe fields. Since replays buffered diffs with a logical time
	// strictly greater than the given value; -1 replays everything
	// buffered.
	Since *int64 `json:"since,omitempty"`
}

// WireRecord is one trade record in a submit frame. Retract inverts the
// multiplicity.
type WireRecord struct {
	Timestamp int64  `json:"timestamp"`
	Category  uint32 `json:"category"`
	Price     string `json:"price"`
	Retract   bool   `json:"retract,omitempty"`
}

// AckFrame acknowledges a submit. Accepted counts the records that
// committed; Rejected lists the ones that did not, indexed into the submit
// frame's record list.
type AckFrame struct {
	Type        string          `json:"type"`
	Accepted    int             `json:"accepted"`
	Rejected    []WireRejection `json:"rejected,omitempty"`
	LogicalTime int64           `json:"logical_time"`
}

// WireRejection reports one rejected record.
type WireRejection struct {
	Index int    `json:"index"`
	Error string `json:"error"`
	Code  int32  `json:"code"`
}

// DiffsFrame pushes committed aggregate diffs to a subscriber.
type DiffsFrame struct {
	Type  string     `json:"type"`
	Diffs []WireDiff `json:"diffs"`
}

// WireDiff is one aggregate diff on the wire. High is the exact decimal as
// a string.
type WireDiff struct {
	Bucket       int64  `json:"bucket"`
	Category     uint32 `json:"category"`
	High         string `json:"high"`
	Multiplicity int64  `json:"multiplicity"`
	LogicalTime  int64  `json:"logical_time"`
}

// ErrorFrame reports a frame-level failure.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int32  `json:"code"`
}

// =============================================================================
// Conversions
// =============================================================================

// toDelta converts a wire record to a staged delta. The price is parsed
// with full validation so precision failures surface per record.
func (r WireRecord) toDelta() (types.Delta, error) {
	price, err := types.ParsePrice(r.Price)
	if err != nil {
		return types.Delta{}, err
	}
	t := types.Trade{Timestamp: r.Timestamp, Category: r.Category, Price: price}
	if r.Retract {
		return types.Retract(t), nil
	}
	return types.Insert(t), nil
}

func toWireDiffs(diffs []types.OutputDiff) []WireDiff {
	out := make([]WireDiff, len(diffs))
	for i, d := range diffs {
		out[i] = WireDiff{
			Bucket:       d.Record.Bucket,
			Category:     d.Record.Category,
			High:         d.Record.High.String(),
			Multiplicity: d.Multiplicity,
			LogicalTime:  d.LogicalTime,
		}
	}
	return out
}

func newErrorFrame(err error) ErrorFrame {
	return ErrorFrame{
		Type:    FrameError,
		Message: err.Error(),
		Code:    errors.ErrorToCode(err),
	}
}
