// Package engineerr defines the closed set of error kinds the engine
// surfaces, per the error handling design: a caller never needs to
// string-match an error message to decide whether to retry, surface, or
// treat a failure as fatal.
package engineerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for the purposes of caller policy (retry,
// surface, fatal).
type Kind int

const (
	// KindUnknown is the zero value: KindOf reports it for an error that
	// carries no *Error classification, so a zero-value Kind is never
	// mistaken for a real classification.
	KindUnknown Kind = iota
	// KindBusy means the engine's admission semaphore is saturated.
	KindBusy
	// KindInvalidTransaction means the transaction fails a structural
	// or payload-analyzer validation check.
	KindInvalidTransaction
	// KindUnknownParent means a declared parent is not present in the DAG.
	KindUnknownParent
	// KindStorageUnavailable means a storage operation failed transiently.
	KindStorageUnavailable
	// KindStorageCorrupt means storage reported unrecoverable corruption.
	KindStorageCorrupt
	// KindPrepareFail means a 2PC participant refused to prepare.
	KindPrepareFail
	// KindConflicting means Avalanche voting ended in metastability.
	KindConflicting
	// KindCancelled means the operation unwound due to context cancellation.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindBusy:
		return "Busy"
	case KindInvalidTransaction:
		return "InvalidTransaction"
	case KindUnknownParent:
		return "UnknownParent"
	case KindStorageUnavailable:
		return "StorageUnavailable"
	case KindStorageCorrupt:
		return "StorageCorrupt"
	case KindPrepareFail:
		return "PrepareFail"
	case KindConflicting:
		return "Conflicting"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is a typed, stack-preserving error. Cause carries the original
// error (wrapped with github.com/pkg/errors so WARN/ERROR log lines can
// print a stack trace at the point of origin) and may be nil for
// sentinel-only errors.
type Error struct {
	Cause  error
	Reason string
	Kind   Kind
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap lets errors.Is/errors.As see through to Cause.
func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a reason, no wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds an Error of the given kind around an existing error,
// attaching a stack trace at the call site (also when cause already
// carries one).
func Wrap(kind Kind, cause error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: errors.WithStack(cause)}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or KindUnknown if err is not an
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
