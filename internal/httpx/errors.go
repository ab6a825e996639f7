package httpx

import (
	"errors"
	"fmt"
	"net"
)

// Kind classifies client-side failures. Every failed exchange surfaces
// exactly one of these.
type Kind uint8

const (
	KindNone Kind = iota
	// KindResolveHost: DNS lookup failed.
	KindResolveHost
	// KindNoReply: the stream closed before the response headers completed.
	KindNoReply
	// KindInvalid: the parser rejected the bytes on the wire.
	KindInvalid
	// KindTimeout: the per-request timer fired.
	KindTimeout
	// KindClosing: the exchange was aborted because the client is shutting down.
	KindClosing
)

func (k Kind) String() string {
	switch k {
	case KindResolveHost:
		return "resolve_host"
	case KindNoReply:
		return "no_reply"
	case KindInvalid:
		return "invalid"
	case KindTimeout:
		return "timeout"
	case KindClosing:
		return "closing"
	}
	return "none"
}

// Error is a structured client error carrying the failure class, the
// operation that failed and the peer address when known.
type Error struct {
	Kind Kind
	Op   string
	Addr string
	Err  error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Addr != "" {
		s += " " + e.Addr
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two Errors by Kind so callers can compare against a bare
// &Error{Kind: ...} target.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func newError(kind Kind, op, addr string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Addr: addr, Err: cause}
}

// ErrKind extracts the failure class from err, or KindNone.
func ErrKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// IsTimeout reports whether err is a per-request timeout, including raw
// net deadline errors that escaped classification.
func IsTimeout(err error) bool {
	if ErrKind(err) == KindTimeout {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// ErrTLSUnsupported is returned when a secure request is made on a
// client constructed without TLS support.
var ErrTLSUnsupported = errors.New("httpx: client has no TLS configuration")

// ErrChunkedUnsupported is returned when a peer frames its body with
// chunked transfer-encoding, which the core does not decode.
var ErrChunkedUnsupported = errors.New("httpx: chunked transfer-encoding not supported")
