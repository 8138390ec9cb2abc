// Package cherr implements the closed set of error kinds the framework
// classifies every failure into, plus an accumulator for passes (like
// configuration validation) that must report every problem at once
// instead of failing on the first.
package cherr

import "fmt"

// Kind is the closed set of error kinds from the framework's error model.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindLifecycle     Kind = "lifecycle"
	KindConnection    Kind = "connection"
	KindBadRequest    Kind = "bad-request"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
	KindTimeout       Kind = "timeout"
	KindExecution     Kind = "execution"
	KindInternal      Kind = "internal"
)

// Error wraps a cause with a Kind and boundary context (which
// capability/action/step raised it), preserving the original cause.
type Error struct {
	kind    Kind
	context string
	cause   error
}

// New creates an Error of the given kind with a message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, cause: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind and boundary context to an existing error without
// discarding it.
func Wrap(kind Kind, context string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, context: context, cause: cause}
}

func (e *Error) Error() string {
	if e.context != "" {
		return fmt.Sprintf("%s: %s: %v", e.context, e.kind, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Unwrap preserves the original cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the Kind from any error, defaulting to KindExecution
// when the error was not produced through this package.
func KindOf(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.kind
	}
	return KindExecution
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// MultiError aggregates multiple errors collected during a single
// validation/shutdown pass. Mirrors the teacher's ShutdownError shape:
// a plain slice of causes with Unwrap() returning the first.
type MultiError struct {
	Errors []error
}

// Add appends a non-nil error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors reports whether any error was collected.
func (m *MultiError) HasErrors() bool { return len(m.Errors) > 0 }

// ErrOrNil returns m if it holds any errors, else nil — for idiomatic
// `if err := m.ErrOrNil(); err != nil { ... }` returns.
func (m *MultiError) ErrOrNil() error {
	if m.HasErrors() {
		return m
	}
	return nil
}

func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors, first: %v", len(m.Errors), m.Errors[0])
	}
}

// Unwrap returns the first error for compatibility with errors.Is/As.
func (m *MultiError) Unwrap() error {
	if len(m.Errors) > 0 {
		return m.Errors[0]
	}
	return nil
}
