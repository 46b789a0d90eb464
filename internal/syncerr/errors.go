// Package syncerr defines the typed errors surfaced by the sync engine.
//
// Every failure that crosses a backend boundary carries a Kind so the host
// can decide how to present it without string matching.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies a sync failure.
type Kind int

const (
	KindUnknown Kind = iota
	CredentialsIncomplete
	TransportFailure
	RemoteConflict
	RemoteNotFound
	InvalidParameter
	ZoneInvalidated
	DurableStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case CredentialsIncomplete:
		return "credentials incomplete"
	case TransportFailure:
		return "transport failure"
	case RemoteConflict:
		return "remote conflict"
	case RemoteNotFound:
		return "remote not found"
	case InvalidParameter:
		return "invalid parameter"
	case ZoneInvalidated:
		return "zone invalidated"
	case DurableStoreUnavailable:
		return "durable store unavailable"
	default:
		return "unknown"
	}
}

// Error is a Kind plus the operation that failed and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, and by message when the target has one.
// This lets errors.Is(err, ErrAlreadySubscribed) and errors.Is(err, &Error{Kind: RemoteConflict})
// both work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t.Kind != e.Kind {
		return false
	}
	return t.Msg == "" || t.Msg == e.Msg
}

var (
	ErrCredentialsIncomplete = &Error{Kind: CredentialsIncomplete}
	ErrAlreadySubscribed     = &Error{Kind: RemoteConflict, Msg: "already subscribed"}
	ErrCreateNotFound        = &Error{Kind: RemoteNotFound, Msg: "feed not found"}
	ErrInvalidParameter      = &Error{Kind: InvalidParameter}
	ErrZoneInvalidated       = &Error{Kind: ZoneInvalidated}
	ErrStoreUnavailable      = &Error{Kind: DurableStoreUnavailable}
	ErrFolderManagement      = &Error{Kind: InvalidParameter, Msg: "folder management not supported"}
)

// New returns an *Error with no cause.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap attaches kind and op to err. A nil err stays nil, and an err that
// already carries a Kind keeps it.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
