package remote

import (
	"errors"
	"fmt"
)

// Kind classifies remote failures.
type Kind int

const (
	// KindUnexpected covers everything that is neither a reported remote
	// failure nor an expired session.
	KindUnexpected Kind = iota
	// KindRemote is a failure reported by the remote service.
	KindRemote
	// KindAuthExpired means the login session is no longer valid.
	KindAuthExpired
)

func (k Kind) String() string {
	switch k {
	case KindRemote:
		return "remote_error"
	case KindAuthExpired:
		return "auth_expired"
	default:
		return "unexpected"
	}
}

// Error is returned by API implementations.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf classifies err. Errors that are not *Error are unexpected.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnexpected
}

// IsAuthExpired reports whether err signals an expired login session.
func IsAuthExpired(err error) bool {
	return err != nil && KindOf(err) == KindAuthExpired
}

// Reason returns the human readable part of err, suitable for result topics.
func Reason(err error) string {
	var re *Error
	if errors.As(err, &re) {
		if re.Msg != "" {
			return re.Msg
		}
		if re.Err != nil {
			return re.Err.Error()
		}
	}
	return err.Error()
}
