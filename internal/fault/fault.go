// Package fault is the single error variant shared by the tensor core.
//
// Preconditions inside kernels and validators are fatal assertions: Check and
// Raise panic with a *Error. Public entry points wrap their body in Catch,
// which turns that panic back into an ordinary error return.
package fault

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Kind classifies a failure.
type Kind int

const (
	ShapeMismatch Kind = iota + 1
	DTypeMismatch
	DeviceMismatch
	NotContiguous
	OutOfRange
	UnsupportedDType
	UnsupportedDevice
	NotImplemented
	Runtime
)

func (k Kind) String() string {
	switch k {
	case ShapeMismatch:
		return "shape mismatch"
	case DTypeMismatch:
		return "dtype mismatch"
	case DeviceMismatch:
		return "device mismatch"
	case NotContiguous:
		return "not contiguous"
	case OutOfRange:
		return "out of range"
	case UnsupportedDType:
		return "unsupported dtype"
	case UnsupportedDevice:
		return "unsupported device"
	case NotImplemented:
		return "not implemented"
	case Runtime:
		return "runtime"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the only error type raised by the core.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// Is matches sentinels (errors without a message) by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// Sentinels for errors.Is.
var (
	ErrShapeMismatch     = &Error{Kind: ShapeMismatch}
	ErrDTypeMismatch     = &Error{Kind: DTypeMismatch}
	ErrDeviceMismatch    = &Error{Kind: DeviceMismatch}
	ErrNotContiguous     = &Error{Kind: NotContiguous}
	ErrOutOfRange        = &Error{Kind: OutOfRange}
	ErrUnsupportedDType  = &Error{Kind: UnsupportedDType}
	ErrUnsupportedDevice = &Error{Kind: UnsupportedDevice}
	ErrNotImplemented    = &Error{Kind: NotImplemented}
	ErrRuntime           = &Error{Kind: Runtime}
)

// New returns a *Error of the given kind wrapped with a stack trace.
func New(kind Kind, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// Raise panics with New(kind, format, args...).
func Raise(kind Kind, format string, args ...any) {
	panic(New(kind, format, args...))
}

// Check raises when cond is false.
func Check(cond bool, kind Kind, format string, args ...any) {
	if !cond {
		Raise(kind, format, args...)
	}
}

// Must raises err (keeping its kind when it already is a *Error).
func Must(err error) {
	if err == nil {
		return
	}
	if _, ok := As(err); ok {
		panic(err)
	}
	panic(errors.WithStack(&Error{Kind: Runtime, Msg: err.Error()}))
}

// Catch runs fn and returns the error it raised, if any. Panics that do not
// carry an error are re-raised.
func Catch(fn func()) error {
	return exceptions.TryCatch[error](fn)
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns err's kind, or 0 when err is not a fault.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return 0
}
