package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind identifies the raw stream a secure session runs over.
type Kind int

const (
	KindUnknown Kind = iota
	KindTCP
	KindQUIC
	KindMem
	KindWinPipe
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindQUIC:
		return "quic"
	case KindMem:
		return "mem"
	case KindWinPipe:
		return "winpipe"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tcp":
		return KindTCP, nil
	case "quic":
		return KindQUIC, nil
	case "mem", "inproc":
		return KindMem, nil
	case "winpipe", "pipe":
		return KindWinPipe, nil
	default:
		return KindUnknown, fmt.Errorf("unknown transport kind: %q", s)
	}
}

var (
	// ErrListenerClosed is returned by Accept once the listener is closed.
	ErrListenerClosed = errors.New("transport: listener closed")
	// ErrHandshake marks dial failures that happened while a transport
	// negotiated TLS itself.
	ErrHandshake = errors.New("transport: handshake failed")
)

// Transport opens raw byte streams of one Kind. Dial and Listen receive the
// TLS configuration of the caller; only transports that negotiate TLS
// themselves (QUIC) consume it, the others leave TLS to the caller.
type Transport interface {
	Kind() Kind
	// Listen binds address and returns a listener for inbound streams.
	Listen(ctx context.Context, address string, tc *tls.Config) (Listener, error)
	// Dial opens an outbound stream to address.
	Dial(ctx context.Context, address string, tc *tls.Config) (net.Conn, error)
}

// Listener accepts inbound raw streams.
type Listener interface {
	// Accept blocks until a stream arrives, ctx is done, or the listener closes.
	Accept(ctx context.Context) (net.Conn, error)
	Addr() net.Addr
	// Close stops the listener and unblocks Accept.
	Close() error
}

// SecureConn is implemented by streams that already carry a TLS session
// (crypto/tls.Conn, QUIC streams).
type SecureConn interface {
	net.Conn
	HandshakeContext(ctx context.Context) error
	ConnectionState() tls.ConnectionState
}

// CloseOnDone closes c when ctx is done or stop is closed, whichever comes first.
func CloseOnDone(ctx context.Context, stop <-chan struct{}, c interface{ Close() error }) {
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-stop:
		}
	}()
}
