// Package audioerr centralizes the error taxonomy used across the audio
// core: every subsystem returns one of these kinds, wrapped over whatever
// caused it, so callers can branch with errors.Is without depending on
// package-specific sentinel values.
package audioerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// KindInvalidParam marks a request rejected at entry; no state change.
	KindInvalidParam Kind = iota
	// KindInvalidHandle marks a reference to an adapter connection or
	// driver endpoint that is absent or disconnected.
	KindInvalidHandle
	// KindIllegalState marks an operation inconsistent with the current
	// session or engine state.
	KindIllegalState
	// KindNotStarted marks a driver-open failure during OpenPort before
	// the IO thread ever ran.
	KindNotStarted
	// KindDeviceInit marks a driver-open or driver-reinit failure.
	KindDeviceInit
	// KindOperationFailed marks a generic driver call failure.
	KindOperationFailed
	// KindInvalidOperation marks an operation that violates an ordering
	// guarantee (e.g. Activate without a prior SetCallback).
	KindInvalidOperation
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParam:
		return "invalid_param"
	case KindInvalidHandle:
		return "invalid_handle"
	case KindIllegalState:
		return "illegal_state"
	case KindNotStarted:
		return "not_started"
	case KindDeviceInit:
		return "device_init"
	case KindOperationFailed:
		return "operation_failed"
	case KindInvalidOperation:
		return "invalid_operation"
	default:
		return "unknown"
	}
}

// Error is the concrete error type every exported operation in this module
// returns. Op names the failing call for logs; Cause, if non-nil, is
// wrapped and reachable via errors.Unwrap/errors.As.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, audioerr.New(audioerr.KindInvalidParam, "", nil)) or,
// more idiomatically, use the Is* helpers below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given kind for operation op, wrapping cause
// (which may be nil).
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Wrap is New with a formatted cause, mirroring the fmt.Errorf("...: %w")
// wrapping convention used throughout this codebase.
func Wrap(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Cause: fmt.Errorf(format, args...)}
}

// Of reports the Kind of err if it is (or wraps) an *Error, and whether one
// was found.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err is, or wraps, an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
