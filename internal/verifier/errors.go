package verifier

import "errors"

// Error kinds. Match them with errors.Is.
var (
	ErrConnection        = errors.New("connection error")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrRemoteCall        = errors.New("remote call error")
	ErrMutation          = errors.New("allow-list mutation error")
	ErrUnknown           = errors.New("unknown error")
)

// Error is returned by Verify for every failed verification.
type Error struct {
	Kind error  // one of the Err* kinds above
	Op   string // step that failed
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// KindOf returns the kind of a verification error, or ErrUnknown.
func KindOf(err error) error {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return ErrUnknown
}

// KindName returns a short name for the error kind, suitable for logs and metrics labels.
func KindName(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case ErrConnection:
		return "connection"
	case ErrInvalidIdentifier:
		return "invalid_identifier"
	case ErrRemoteCall:
		return "remote_call"
	case ErrMutation:
		return "mutation"
	default:
		return "unknown"
	}
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
