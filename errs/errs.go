// Package errs defines the error taxonomy shared by every core component:
// transient I/O, protocol violations, authorization denials, not-found,
// capacity exhaustion, timeouts, and fatal corruption. Components wrap a
// concrete cause with one of these kinds so callers can branch with
// errors.Is/errors.As instead of parsing strings.
package errs

import "fmt"

// Kind classifies an error for propagation purposes.
type Kind int

const (
	KindTransient Kind = iota
	KindProtocol
	KindDenied
	KindNotFound
	KindBusy
	KindTimeout
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindProtocol:
		return "protocol"
	case KindDenied:
		return "denied"
	case KindNotFound:
		return "not_found"
	case KindBusy:
		return "busy"
	case KindTimeout:
		return "timeout"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a kinded error wrapping an inner cause.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, allowing
// errors.Is(err, errs.Timeout("")) style checks against a kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Reason != "" && t.Reason != e.Reason {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

func Transient(reason string, cause error) *Error { return New(KindTransient, reason, cause) }
func Protocol(reason string, cause error) *Error  { return New(KindProtocol, reason, cause) }
func Denied(reason string) *Error                 { return New(KindDenied, reason, nil) }
func NotFound(reason string) *Error               { return New(KindNotFound, reason, nil) }
func Busy(reason string) *Error                   { return New(KindBusy, reason, nil) }
func Timeout(reason string) *Error                { return New(KindTimeout, reason, nil) }
func Fatal(reason string, cause error) *Error     { return New(KindFatal, reason, cause) }

// Sentinels for common, reason-specific failures referenced throughout the
// core and by callers via errors.Is.
var (
	ErrCannotRevokePermanent = Denied("cannot revoke permanent grant")
	ErrNotMember             = Denied("sender not a channel member")
	ErrUnknownChannel        = NotFound("unknown channel")
	ErrUnknownArtifact       = NotFound("unknown artifact")
	ErrQueueFull             = Busy("queue full")
	ErrStorageQuota          = Busy("storage quota reached")
)
