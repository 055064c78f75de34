// Package errors provides the structured error taxonomy for httpcore.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Type categorizes an Error by the stage of the request lifecycle it
// occurred in. It corresponds to the error taxonomy in spec.md §7.
type Type string

const (
	TypeBadURL     Type = "bad_url"
	TypeConnect    Type = "connect"
	TypeProtocolH1 Type = "protocol_h1"
	TypeProtocolH2 Type = "protocol_h2"
	TypeProxyAuth  Type = "proxy_auth"
	TypeEncoding   Type = "unsupported_encoding"
	TypeUserHandler Type = "user_handler"
	TypeTimeout    Type = "timeout"
)

// Error is a structured error carrying enough context to classify and
// render a failure without losing the underlying cause.
type Error struct {
	Type      Type
	Op        string
	Message   string
	Cause     error
	Host      string
	Port      int
	Timestamp time.Time
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Type))
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Host != "" {
		if e.Port > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", e.Host, e.Port))
		} else {
			parts = append(parts, e.Host)
		}
	}
	out := strings.Join(parts, " ")
	if e.Message != "" {
		out += ": " + e.Message
	}
	if e.Cause != nil {
		out += ": " + e.Cause.Error()
	}
	return out
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

func newErr(t Type, op, msg string, cause error) *Error {
	return &Error{Type: t, Op: op, Message: msg, Cause: cause, Timestamp: time.Now()}
}

func NewBadURL(msg string) *Error {
	return newErr(TypeBadURL, "validate", msg, nil)
}

func NewConnect(host string, port int, cause error) *Error {
	e := newErr(TypeConnect, "dial", fmt.Sprintf("failed to connect to %s:%d", host, port), cause)
	e.Host, e.Port = host, port
	return e
}

func NewProtocolH1(op, msg string, cause error) *Error {
	return newErr(TypeProtocolH1, op, msg, cause)
}

func NewProtocolH2(op, msg string, cause error) *Error {
	return newErr(TypeProtocolH2, op, msg, cause)
}

func NewEncoding(coding string) *Error {
	return newErr(TypeEncoding, "decode", "unsupported encoding: "+coding, nil)
}

func NewUserHandler(cause error) *Error {
	return newErr(TypeUserHandler, "callback", "user requester/responder failed", cause)
}

func NewTimeout(op string, d time.Duration) *Error {
	return newErr(TypeTimeout, op, fmt.Sprintf("operation timed out after %v", d), nil)
}

// NewIOErrorCompat wraps a raw I/O error under TypeProtocolH1, used by
// the body/chunked/h1 codec layers for read/write failures that aren't
// themselves malformed-wire errors.
func NewIOErrorCompat(cause error) *Error {
	return newErr(TypeProtocolH1, "io", "i/o error", cause)
}

// ProxySubReason distinguishes why a forward proxy rejected a request with
// 407 Proxy Authentication Required.
type ProxySubReason string

const (
	ProxyNoCredentials   ProxySubReason = "no_credentials"
	ProxyWrongCredentials ProxySubReason = "wrong_credentials"
	ProxyOther           ProxySubReason = "other"
)

// ProxyError wraps a 407 response with the sub-reason spec.md §4.10 asks
// for, alongside the base Error taxonomy.
type ProxyError struct {
	*Error
	Reason ProxySubReason
}

func NewProxyAuthRequired(reason ProxySubReason, haveCredentials bool) *ProxyError {
	msg := "proxy authentication required"
	if reason == ProxyNoCredentials {
		msg = "proxy authentication required: no credentials supplied"
	} else if reason == ProxyWrongCredentials {
		msg = "proxy authentication required: credentials rejected"
	}
	return &ProxyError{
		Error:  newErr(TypeProxyAuth, "request", msg, nil),
		Reason: reason,
	}
}

// ErrH2SessionTerminated is returned to every stream in flight when the
// HTTP/2 worker task dies (spec.md §4.10).
var ErrH2SessionTerminated = newErr(TypeProtocolH2, "session", "http/2 session terminated", nil)

// IsTimeout reports whether err is a timeout, by structured type, by
// net.Error, or by context deadline.
func IsTimeout(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == TypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsCanceled reports whether err stems from context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Type extraction helper, mirroring teacher's GetErrorType.
func TypeOf(err error) Type {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}
