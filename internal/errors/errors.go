// LOCATION: internal/errors/errors.go
//
// This file provides:
// - Wire protocol error codes
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToCode mapping
// - Error wrapping utilities

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Wire protocol error codes - used in server error frames
// ============================================================================

const (
	CodeUnknown         int32 = 1
	CodeInvalidRequest  int32 = 2
	CodeOrdering        int32 = 3
	CodePrecision       int32 = 4
	CodeMalformedRecord int32 = 5
	CodeNotRunning      int32 = 6
	CodeInternal        int32 = 7
	CodeSlowConsumer    int32 = 8
)

// CodeName returns a human-readable name for an error code.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "Unknown"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeOrdering:
		return "Ordering"
	case CodePrecision:
		return "Precision"
	case CodeMalformedRecord:
		return "MalformedRecord"
	case CodeNotRunning:
		return "NotRunning"
	case CodeInternal:
		return "Internal"
	case CodeSlowConsumer:
		return "SlowConsumer"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Ordering errors
	ErrLogicalTimeRegression = errors.New("logical time regression")
	ErrSessionClosed         = errors.New("session closed")

	// Record validation errors
	ErrPrecisionLoss   = errors.New("price exceeds representable decimal precision")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidCategory = errors.New("invalid category")
	ErrZeroDiff        = errors.New("diff with zero multiplicity")

	// Lifecycle errors
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")

	// Sink / subscriber errors
	ErrSinkClosed   = errors.New("sink closed")
	ErrSlowConsumer = errors.New("subscriber too slow")

	// Query errors
	ErrEmptyGroup = errors.New("group has no live record")

	// Invariant violations. A sink observing one of these indicates an
	// engine bug, not bad input.
	ErrDuplicateLiveRecord = errors.New("second live record for group")
	ErrRetractNotLive      = errors.New("retraction of record that is not live")

	// Internal errors
	ErrInternal = errors.New("internal error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New returns a new error with the given text.
var New = errors.New

// IsOrdering returns true if err is a logical-time ordering error.
func IsOrdering(err error) bool {
	return errors.Is(err, ErrLogicalTimeRegression)
}

// IsRecordRejection returns true if err rejects a single input record.
// Record rejections are reported per record and never abort the rest of
// the batch they arrived in.
func IsRecordRejection(err error) bool {
	return errors.Is(err, ErrPrecisionLoss) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrZeroDiff)
}

// IsInvariantViolation returns true if err signals broken engine output.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrDuplicateLiveRecord) ||
		errors.Is(err, ErrRetractNotLive)
}

// ============================================================================
// Error to wire code mapping
// ============================================================================

// ErrorToCode maps a sentinel error to its wire protocol code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case Is(err, ErrLogicalTimeRegression):
		return CodeOrdering
	case Is(err, ErrPrecisionLoss):
		return CodePrecision
	case IsRecordRejection(err):
		return CodeMalformedRecord
	case Is(err, ErrNotRunning), Is(err, ErrSessionClosed):
		return CodeNotRunning
	case Is(err, ErrSlowConsumer):
		return CodeSlowConsumer
	case Is(err, ErrEmptyGroup):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}

// ============================================================================
// Wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// RecordRejection is a per-record rejection carrying the record's index
// within its batch.
type RecordRejection struct {
	Index int
	Err   error
}

func (r *RecordRejection) Error() string {
	return fmt.Sprintf("record %d: %v", r.Index, r.Err)
}

func (r *RecordRejection) Unwrap() error {
	return r.Err
}

// NewRecordRejection creates a per-record rejection error.
func NewRecordRejection(index int, err error) error {
	return &RecordRejection{Index: index, Err: err}
}
