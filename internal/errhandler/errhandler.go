// Package errhandler provides the structured error type used across the event
// pipeline and a uniform wrapper for fallible operations.
package errhandler

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// Error names used by the pipeline. Error.Is compares by name, so sentinel
// values below match any *Error carrying the same name.
const (
	NameBridgeUnavailable = "bridge_unavailable"
	NamePermissionDenied  = "permission_denied"
	NameBrokenState       = "broken_state"
	NameMalformedPayload  = "malformed_payload"
	NameObserverPanic     = "observer_panic"
	NameNotInitialized    = "not_initialized"
	NameInvalidObserver   = "invalid_observer"
	NamePanic             = "panic"
	NameOperationFailed   = "operation_failed"
)

// Error is a failure carrying the operation it happened in, a short reason
// and, optionally, the underlying cause.
type Error struct {
	Name   string
	Reason string
	Op     string
	Cause  error
	// Stack is the goroutine stack at the point of a recovered panic
	Stack []byte
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := e.Name
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", e.Name, e.Reason)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes the underlying cause to errors.Is / errors.As
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is to compare Error values by Name
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Name == t.Name
}

// Predefined sentinel errors
var (
	ErrBridgeUnavailable = &Error{Name: NameBridgeUnavailable}
	ErrPermissionDenied  = &Error{Name: NamePermissionDenied}
	ErrBrokenState       = &Error{Name: NameBrokenState}
	ErrMalformedPayload  = &Error{Name: NameMalformedPayload}
	ErrObserverPanic     = &Error{Name: NameObserverPanic}
	ErrNotInitialized    = &Error{Name: NameNotInitialized}
	ErrInvalidObserver   = &Error{Name: NameInvalidObserver}
	ErrPanic             = &Error{Name: NamePanic}
)

// CreateError builds a structured error. It has no side effects.
func CreateError(name, reason, op string) *Error {
	return &Error{Name: name, Reason: reason, Op: op}
}

// Wrap attaches cause to a new structured error.
// A nil cause yields a nil error.
func Wrap(name, reason, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Name: name, Reason: reason, Op: op, Cause: cause}
}

// Run executes fn and converts whatever it produces into a structured error.
//
// A returned *Error is passed through with Op filled in when empty, any other
// error becomes the Cause of an operation_failed error, and a panic is
// recovered into a panic error. Run itself never panics.
func Run(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fromPanic(op, r)
		}
	}()

	if fn == nil {
		return nil
	}
	return normalize(op, fn())
}

func normalize(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		if se.Op == "" {
			cp := *se
			cp.Op = op
			return &cp
		}
		return err
	}

	return &Error{Name: NameOperationFailed, Reason: "operation returned an error", Op: op, Cause: err}
}

// fromPanic must be called from the deferred recover so that the captured
// stack still contains the panicking frames.
func fromPanic(op string, r any) *Error {
	e := &Error{Name: NamePanic, Reason: fmt.Sprint(r), Op: op, Stack: debug.Stack()}
	if cause, ok := r.(error); ok {
		e.Cause = cause
	}
	return e
}

// Reporter logs errors that are contained by a component rather than
// returned to a caller.
type Reporter struct {
	logger *logrus.Logger
}

// NewReporter creates a reporter; a nil logger means logrus.New().
func NewReporter(logger *logrus.Logger) *Reporter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reporter{logger: logger}
}

// Report logs err with its structured fields. Nil errors are ignored.
func (r *Reporter) Report(err error) {
	if r == nil || err == nil {
		return
	}

	entry := r.logger.WithError(err)

	var se *Error
	if errors.As(err, &se) {
		entry = entry.WithFields(logrus.Fields{
			"op":   se.Op,
			"name": se.Name,
		})
		if se.Name == NamePanic || se.Name == NameObserverPanic {
			if stack := StackOf(err); stack != nil {
				entry = entry.WithField("stack", string(stack))
			}
			entry.Error("Recovered panic")
			return
		}
		if se.Name == NameMalformedPayload {
			entry.Warn("Dropped event")
			return
		}
	}

	entry.Error("Operation failed")
}

// StackOf returns the first panic stack recorded in err's chain
func StackOf(err error) []byte {
	for ; err != nil; err = errors.Unwrap(err) {
		if se, ok := err.(*Error); ok && len(se.Stack) > 0 {
			return se.Stack
		}
	}
	return nil
}

// Go runs fn through Run and reports a failure instead of returning it.
func (r *Reporter) Go(op string, fn func() error) {
	r.Report(Run(op, fn))
}
