package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type Kind string

const (
	KindNetwork    Kind = "network"
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindUnknown    Kind = "unknown"
)

// Sentinels for errors.Is. A *Error matches the sentinel of its Kind.
var (
	ErrNetwork    = errors.New("network error")
	ErrValidation = errors.New("validation error")
	ErrAuth       = errors.New("auth error")
	ErrUnknown    = errors.New("unknown error")
)

// Error is returned by every Client call and by local form validation.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrUnknown:
		return e.Kind == KindUnknown
	}
	return false
}

func NewValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Message returns the user-facing text carried by err, or "" when err is not
// a directory error or carries no message.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

func fromStatus(status int, serverMsg, fallback string) *Error {
	msg := serverMsg
	if msg == "" {
		msg = fallback
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindAuth, Status: status, Message: msg}
	case status >= 400 && status < 500:
		return &Error{Kind: KindValidation, Status: status, Message: msg}
	default:
		return &Error{Kind: KindUnknown, Status: status, Message: msg}
	}
}

func fromTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindNetwork, Message: "timeout", Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindNetwork, Message: "timeout", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindNetwork, Message: "request canceled", Err: err}
	}
	return &Error{Kind: KindNetwork, Message: "directory unreachable", Err: err}
}
