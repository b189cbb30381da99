// Package sink defines the downstream side of the engine: consumers of the
// aggregate-diff stream.
//
// A -1 entry retracts the exact record previously emitted for its group; a
// +1 entry is the record that now holds. Sinks may materialize the stream
// into a table keyed by (bucket, category), log it, persist it, or fan it
// out to subscribers.
package sink

import (
	"context"

	"github.com/xtxerr/highwater/internal/logging"
	"github.com/xtxerr/highwater/internal/types"
)

// Sink consumes one committed batch's aggregate diffs at a time. Batches
// arrive in logical-time order; a sink is never called concurrently.
type Sink interface {
	// Consume processes the diffs of one batch.
	Consume(ctx context.Context, diffs []types.OutputDiff) error

	// Close releases sink resources after the last batch.
	Close() error
}

// LogSink writes one structured log line per aggregate diff. It is the
// reference consumer of the stream.
type LogSink struct {
	log interface {
		Info(msg string, args ...any)
	}
}

// NewLogSink creates a LogSink using the component logger.
func NewLogSink() *LogSink {
	return &LogSink{log: logging.Component("sink")}
}

// Consume logs each diff.
func (s *LogSink) Consume(_ context.Context, diffs []types.OutputDiff) error {
	for _, d := range diffs {
		s.log.Info("hourly",
			"bucket", d.Record.Bucket,
			"category", d.Record.Category,
			"high", d.Record.High.String(),
			"multiplicity", d.Multiplicity,
			"logical_time", d.LogicalTime)
	}
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

// MultiSink fans a batch out to several sinks in order. The first error
// stops the fan-out and is returned.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a MultiSink over the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Add appends a sink to the fan-out. Not safe to call once batches are
// flowing.
func (m *MultiSink) Add(s Sink) {
	m.sinks = append(m.sinks, s)
}

// Consume delivers the batch to every sink.
func (m *MultiSink) Consume(ctx context.Context, diffs []types.OutputDiff) error {
	for _, s := range m.sinks {
		if err := s.Consume(ctx, diffs); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all sinks, returning the first error.
func (m *MultiSink) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
