package secure

import (
	"errors"
	"io"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies failures of the secure connection layer.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindCredential
	KindConnect
	KindHandshake
	KindRead
	KindWrite
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindCredential:
		return "credential"
	case KindConnect:
		return "connect"
	case KindHandshake:
		return "handshake"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// kindError is the sentinel form of a Kind, matched by errors.Is against *Error.
type kindError Kind

func (e kindError) Error() string { return "secure: " + Kind(e).String() + " error" }

// Sentinels for errors.Is.
var (
	ErrCredential error = kindError(KindCredential)
	ErrConnect    error = kindError(KindConnect)
	ErrHandshake  error = kindError(KindHandshake)
	ErrRead       error = kindError(KindRead)
	ErrWrite      error = kindError(KindWrite)
	ErrClosed     error = kindError(KindClosed)
)

var (
	errHandshakePending = errors.New("handshake not complete")
	errStreamClosed     = errors.New("use of closed secure stream")
)

// Error is returned by every operation in this package that fails.
type Error struct {
	Kind Kind
	Op   string
	Addr string
	Err  error
}

func (e *Error) Error() string {
	msg := "secure: " + e.Op
	if e.Addr != "" {
		msg += " " + e.Addr
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindError)
	return ok && Kind(k) == e.Kind
}

// KindOf extracts the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op, addr string, err error) error {
	return pkgerrors.WithStack(&Error{Kind: kind, Op: op, Addr: addr, Err: err})
}

func closedError(op string) error {
	return newError(KindClosed, op, "", errStreamClosed)
}

// CredentialError wraps a failure to load certificate or key material.
func CredentialError(path string, err error) error {
	return newError(KindCredential, "load", path, err)
}

// ClosedError reports an operation attempted on a torn-down connection.
func ClosedError(op string) error { return closedError(op) }

// PeerClosed reports an orderly close by the remote end as a read error that
// still matches io.EOF.
func PeerClosed(addr string) error { return newError(KindRead, "read", addr, io.EOF) }
