// Package errs carries the error taxonomy shared by the services and the
// event consumers. Every error that crosses a component boundary is tagged
// with a Kind so callers can match on it instead of string contents.
package errs

import "errors"

// Kind classifies an error for callers.
type Kind uint8

const (
	// KindUnknown is returned by KindOf for untagged errors.
	KindUnknown Kind = iota
	// KindValidation marks caller-correctable input problems.
	KindValidation
	// KindNotFound marks a missing user, edge, or session.
	KindNotFound
	// KindConflict marks a lost race against a concurrent writer,
	// typically a unique-constraint violation.
	KindConflict
	// KindPermissionDenied marks an operation on a record the actor
	// does not own.
	KindPermissionDenied
	// KindTransient marks store or bus unavailability. Transient errors
	// abort the enclosing transaction and, on the consumer side, leave
	// the event unacknowledged for redelivery.
	KindTransient
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPermissionDenied:
		return "permission_denied"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is a tagged error. It wraps an optional cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New creates a tagged error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap tags an existing error with a kind. Returns nil if err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}

	return &Error{kind: kind, err: err}
}

// WrapMsg tags an existing error with a kind and a message prefix.
func WrapMsg(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{kind: kind, msg: msg, err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.msg != "" && e.err != nil:
		return e.msg + ": " + e.err.Error()
	case e.msg != "":
		return e.msg
	case e.err != nil:
		return e.err.Error()
	default:
		return e.kind.String()
	}
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// KindOf returns the kind of the first tagged error in err's chain,
// or KindUnknown when no tag is present.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.kind
	}

	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
