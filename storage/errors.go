package storage

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a storage failure.
type Kind uint8

const (
	KindConnectionFailed Kind = iota + 1
	KindRequestFailed
	KindInvalidConfig
	KindProtocolNotSupported
	KindUnsupportedProtocol
	KindNotConnected
	KindIO
	KindNetwork
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConnectionFailed:
		return "Connection failed"
	case KindRequestFailed:
		return "Request failed"
	case KindInvalidConfig:
		return "Invalid configuration"
	case KindProtocolNotSupported:
		return "Protocol not supported"
	case KindUnsupportedProtocol:
		return "Unsupported protocol"
	case KindNotConnected:
		return "Not connected"
	case KindIO:
		return "IO error"
	case KindNetwork:
		return "Network error"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Storage error"
	}
}

// Error is the error type returned by backends and the Manager.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "":
		return e.Kind.String() + ": " + e.Msg
	case e.Err != nil:
		return e.Kind.String() + ": " + e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message. Cancellation also matches
// context.Canceled.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrConnectionFailed     = &Error{Kind: KindConnectionFailed}
	ErrRequestFailed        = &Error{Kind: KindRequestFailed}
	ErrInvalidConfig        = &Error{Kind: KindInvalidConfig}
	ErrProtocolNotSupported = &Error{Kind: KindProtocolNotSupported}
	ErrUnsupportedProtocol  = &Error{Kind: KindUnsupportedProtocol}
	ErrNotConnected         = &Error{Kind: KindNotConnected}
	ErrIO                   = &Error{Kind: KindIO}
	ErrNetwork              = &Error{Kind: KindNetwork}
	ErrCancelled            = &Error{Kind: KindCancelled}
)

// Errorf builds an *Error of the given kind. A %w verb in format is kept as
// the wrapped cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Msg: err.Error(), Err: errors.Unwrap(err)}
}

// Cancelled wraps a context error as a KindCancelled storage error.
func Cancelled(cause error) *Error {
	if cause == nil {
		cause = context.Canceled
	}
	return &Error{Kind: KindCancelled, Msg: "operation cancelled", Err: cause}
}

// IOError wraps err as a KindIO error unless it already carries a storage
// kind or is a context error.
func IOError(err error) error {
	return classify(KindIO, err)
}

// NetworkError wraps err as a KindNetwork error unless it already carries a
// storage kind or is a context error.
func NetworkError(err error) error {
	return classify(KindNetwork, err)
}

func classify(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled(err)
	}
	return &Error{Kind: kind, Msg: err.Error(), Err: err}
}

// IsCancelled reports whether err is a cancellation, either a KindCancelled
// storage error or a bare context error.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
