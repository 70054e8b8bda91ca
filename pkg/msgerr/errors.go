// Package msgerr defines the stable error taxonomy surfaced by the messenger
// transport core.
//
// Lower packages keep their own sentinel errors and wrap them with %w. At the
// session boundary every failure is classified into one Kind so callers can
// make retry and presentation decisions without matching raw I/O text:
//
//	if msgerr.KindOf(err) == msgerr.KindNetwork {
//	    // schedule a reconnect
//	}
package msgerr

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// Kind classifies an error.
type Kind uint8

const (
	// KindUnknown is used for errors that were not classified.
	KindUnknown Kind = iota

	// KindNetwork indicates an I/O failure on a socket.
	KindNetwork

	// KindProtocol indicates a framing or version violation.
	KindProtocol

	// KindEncryption indicates a cipher, MAC or key-exchange failure.
	KindEncryption

	// KindSerialization indicates a payload that could not be encoded or decoded.
	KindSerialization

	// KindStorage indicates a failure in the message store collaborator.
	KindStorage

	// KindConfig indicates invalid or unreadable configuration.
	KindConfig

	// KindState indicates session-control misuse (already/not connected,
	// timeouts, size limits).
	KindState
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NETWORK"
	case KindProtocol:
		return "PROTOCOL"
	case KindEncryption:
		return "ENCRYPTION"
	case KindSerialization:
		return "SERIALIZATION"
	case KindStorage:
		return "STORAGE"
	case KindConfig:
		return "CONFIG"
	case KindState:
		return "STATE"
	default:
		return "UNKNOWN"
	}
}

// State errors.
var (
	ErrAlreadyConnected  = &Error{Kind: KindState, Op: "session", Err: errors.New("already connected")}
	ErrNotConnected      = &Error{Kind: KindState, Op: "session", Err: errors.New("not connected")}
	ErrConnectionTimeout = &Error{Kind: KindState, Op: "connect", Err: errors.New("connection timeout")}
	ErrMessageTooLarge   = &Error{Kind: KindState, Op: "frame", Err: errors.New("message too large")}
)

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the same sentinel. Two *Error values match when
// they share a kind and wrap the same underlying error, so wrapped sentinels
// such as fmt.Errorf("%w", ErrNotConnected) still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Err == t.Err
}

// New wraps err with a kind and operation name. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Network wraps an I/O error. Timeouts are reported as ErrConnectionTimeout.
func Network(op string, err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrConnectionTimeout)
	}
	return New(KindNetwork, op, err)
}

// Protocol wraps a framing or version error.
func Protocol(op string, err error) error { return New(KindProtocol, op, err) }

// Encryption wraps a cipher or key-exchange error.
func Encryption(op string, err error) error { return New(KindEncryption, op, err) }

// Serialization wraps a payload codec error.
func Serialization(op string, err error) error { return New(KindSerialization, op, err) }

// Storage wraps a store collaborator error.
func Storage(op string, err error) error { return New(KindStorage, op, err) }

// Config wraps a configuration error.
func Config(op string, err error) error { return New(KindConfig, op, err) }

// KindOf returns the kind of the outermost classified error in err's chain,
// or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
