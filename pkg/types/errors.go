package types

import (
	"errors"
	"fmt"
)

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindArgument       ErrKind = iota // null/empty required fields, out-of-range offsets
	ErrKindNotFound                      // key or package absent
	ErrKindDuplicate                     // key or package already present
	ErrKindCapacity                      // no free slot, not enough flash, overlapping layout
	ErrKindBusy                          // lock held or subsystem not idle
	ErrKindSystem                        // opaque flash/transport failure
	ErrKindNotImplemented                // recognized request without an implementation
	ErrKindIncompatible                  // bad magic or unsupported package version
	ErrKindCorrupt                       // flash contents disagree with the expected layout
	ErrKindNotSupported                  // valid request this backend cannot serve
	ErrKindTimeout                       // bounded wait expired
)

// String implements fmt.Stringer.
func (k ErrKind) String() string {
	switch k {
	case ErrKindArgument:
		return "argument"
	case ErrKindNotFound:
		return "not found"
	case ErrKindDuplicate:
		return "duplicate"
	case ErrKindCapacity:
		return "capacity"
	case ErrKindBusy:
		return "busy"
	case ErrKindSystem:
		return "system"
	case ErrKindNotImplemented:
		return "not implemented"
	case ErrKindIncompatible:
		return "incompatible"
	case ErrKindCorrupt:
		return "corrupt"
	case ErrKindNotSupported:
		return "not supported"
	case ErrKindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. This lets callers
// write errors.Is(err, types.ErrDuplicate) without caring about the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels commonly returned by implementations.
var (
	ErrArgument       = &Error{Kind: ErrKindArgument, Msg: "invalid argument"}
	ErrNotFound       = &Error{Kind: ErrKindNotFound, Msg: "not found"}
	ErrDuplicate      = &Error{Kind: ErrKindDuplicate, Msg: "element already exists"}
	ErrOutOfSpace     = &Error{Kind: ErrKindCapacity, Msg: "not enough space"}
	ErrBusy           = &Error{Kind: ErrKindBusy, Msg: "busy"}
	ErrSystem         = &Error{Kind: ErrKindSystem, Msg: "system error"}
	ErrNotImplemented = &Error{Kind: ErrKindNotImplemented, Msg: "not implemented"}
	ErrIncompatible   = &Error{Kind: ErrKindIncompatible, Msg: "incompatible version"}
	ErrCorrupt        = &Error{Kind: ErrKindCorrupt, Msg: "corrupt flash layout"}
	ErrNotSupported   = &Error{Kind: ErrKindNotSupported, Msg: "not supported"}
	ErrTimeout        = &Error{Kind: ErrKindTimeout, Msg: "timed out"}
)

// Errorf builds a typed error with a formatted message.
func Errorf(kind ErrKind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause. A nil cause
// still yields a typed error.
func Wrap(kind ErrKind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Untyped errors
// are reported as ErrKindSystem.
func KindOf(err error) (ErrKind, bool) {
	if err == nil {
		return 0, false
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return ErrKindSystem, false
}
