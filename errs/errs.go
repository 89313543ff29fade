// Package errs defines the error taxonomy shared by every component of the
// substrate: pool, ht, frag, codec, eventloop, transport, and bus all
// classify failures into one of these kinds rather than inventing their own
// per-package sentinel errors.
package errs

import "errors"

// Kind classifies an error without describing its specific cause.
type Kind int

const (
	// KindUnknown is the zero value; Of returns it for errors with no Kind.
	KindUnknown Kind = iota
	KindInvalidArgument
	KindOutOfMemory
	KindOutOfSpace
	KindNotFound
	KindExists
	KindRange
	KindAddrResolve
	KindIO
	KindAgain
	KindProtocol
	KindUnsupported
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid-argument"
	case KindOutOfMemory:
		return "out-of-memory"
	case KindOutOfSpace:
		return "out-of-space"
	case KindNotFound:
		return "not-found"
	case KindExists:
		return "exists"
	case KindRange:
		return "range"
	case KindAddrResolve:
		return "addr-resolve"
	case KindIO:
		return "io"
	case KindAgain:
		return "again"
	case KindProtocol:
		return "protocol"
	case KindUnsupported:
		return "unsupported"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-classified error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error with the same Kind, mirroring how the sentinel
// vars below are checked with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of returns the Kind of err, or KindUnknown if err does not carry one.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Sentinel values for errors.Is comparisons against a bare kind, e.g.
// errors.Is(err, errs.NotFound).
var (
	InvalidArgument = &Error{Kind: KindInvalidArgument}
	OutOfMemory     = &Error{Kind: KindOutOfMemory}
	OutOfSpace      = &Error{Kind: KindOutOfSpace}
	NotFound        = &Error{Kind: KindNotFound}
	Exists          = &Error{Kind: KindExists}
	Range           = &Error{Kind: KindRange}
	AddrResolve     = &Error{Kind: KindAddrResolve}
	IO              = &Error{Kind: KindIO}
	Again           = &Error{Kind: KindAgain}
	Protocol        = &Error{Kind: KindProtocol}
	Unsupported     = &Error{Kind: KindUnsupported}
	Closed          = &Error{Kind: KindClosed}
)
