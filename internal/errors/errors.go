// Package errors provides the structured error type shared by the decision core.
// Import it as herr to avoid shadowing the standard library package.
package errors

import (
	stderrs "errors"
	"fmt"
)

// #region kind

// Kind is a stable machine-facing error category.
type Kind uint16

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindNotFound
	KindStorage
	KindUnavailable

	// KindBlockedByPolicy is terminal: a safety rule matched and no route is produced.
	KindBlockedByPolicy
	// KindDimensionMismatch means a vector length differs from the configured width.
	KindDimensionMismatch
	// KindNoTrainedModel is recovered locally by falling back to heuristic routing.
	KindNoTrainedModel
	// KindUnstableReservoir is raised at construction only.
	KindUnstableReservoir
	KindEmptyTrainingSet
	KindInsufficientFolds
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindInvalidArgument:   "invalid_argument",
	KindNotFound:          "not_found",
	KindStorage:           "storage",
	KindUnavailable:       "unavailable",
	KindBlockedByPolicy:   "blocked_by_policy",
	KindDimensionMismatch: "dimension_mismatch",
	KindNoTrainedModel:    "no_trained_model",
	KindUnstableReservoir: "unstable_reservoir",
	KindEmptyTrainingSet:  "empty_training_set",
	KindInsufficientFolds: "insufficient_folds",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint16(k))
}

// #endregion kind

// #region error

// Error is the structured error type. msg is developer facing, kind is machine facing,
// op is an optional operation tag and orig the wrapped cause.
type Error struct {
	orig error
	msg  string
	kind Kind
	op   string

	// RuleID is set for KindBlockedByPolicy.
	RuleID string
	// Expected and Got are set for KindDimensionMismatch.
	Expected int
	Got      int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.msg
	if e.op != "" {
		msg = e.op + ": " + msg
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", msg, e.orig)
	}
	return msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.orig }

// Kind returns the error kind.
func (e *Error) Kind() Kind { return e.kind }

// Op returns the operation label, if set.
func (e *Error) Op() string { return e.op }

// Message returns the bare message without op or cause.
func (e *Error) Message() string { return e.msg }

// #endregion error

// #region constructors

// New returns a new *Error with the given kind and message.
func New(kind Kind, msg string) error { return &Error{kind: kind, msg: msg} }

// Newf returns a new *Error with kind and formatted message.
func Newf(kind Kind, format string, a ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, a...)}
}

// Wrap returns a new *Error that wraps orig with kind and message.
func Wrap(orig error, kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg, orig: orig}
}

// Wrapf returns a new *Error that wraps orig with kind and formatted message.
func Wrapf(orig error, kind Kind, format string, a ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, a...), orig: orig}
}

// WithOp attaches an operation label (copy-on-write). Foreign errors pass through unchanged.
func WithOp(err error, op string) error {
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return err
}

// Blocked reports a safety rule match.
func Blocked(ruleID, reason string) error {
	return &Error{kind: KindBlockedByPolicy, msg: fmt.Sprintf("blocked by %s: %s", ruleID, reason), RuleID: ruleID}
}

// DimensionMismatch reports a vector of the wrong width.
func DimensionMismatch(what string, expected, got int) error {
	return &Error{
		kind:     KindDimensionMismatch,
		msg:      fmt.Sprintf("%s dimension mismatch: expected %d, got %d", what, expected, got),
		Expected: expected,
		Got:      got,
	}
}

// InvalidArgf returns an invalid argument error.
func InvalidArgf(format string, a ...any) error { return Newf(KindInvalidArgument, format, a...) }

// NotFoundf returns a not found error.
func NotFoundf(format string, a ...any) error { return Newf(KindNotFound, format, a...) }

// Storagef wraps a storage failure.
func Storagef(orig error, format string, a ...any) error {
	return Wrapf(orig, KindStorage, format, a...)
}

// #endregion constructors

// #region inspection

// As unwraps and returns (*Error, true) if err is one of ours.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf extracts the Kind from any error, defaulting to KindUnknown.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RuleOf returns the blocking rule id carried by err, or "".
func RuleOf(err error) string {
	if e, ok := As(err); ok {
		return e.RuleID
	}
	return ""
}

// #endregion inspection
