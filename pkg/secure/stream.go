package secure

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodeByAnshuman/Chat-App/pkg/transport"
)

// Stream is one raw transport stream plus the TLS session running over it.
// Reads and writes are refused until the handshake completes and after Close.
// A Stream may be read by one goroutine while another writes to it.
type Stream struct {
	conn   transport.SecureConn
	role   Role
	remote string

	handshaked atomic.Bool
	closed     atomic.Bool
	closeOnce  sync.Once
	closeErr   error

	handshakeTimeout time.Duration
}

// Dial opens a raw stream to host:port through tr and prepares the client side
// of the TLS session. The handshake is not run yet; see Handshake.
// Resolution and dial failures are reported as KindConnect.
func Dial(ctx context.Context, tc *Context, tr transport.Transport, host string, port int) (*Stream, error) {
	if tc == nil || tc.role != RoleClient {
		return nil, newError(KindConnect, "dial", host, errors.New("client context required"))
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	raw, err := tr.Dial(ctx, addr, tc.clientConfig(host))
	if err != nil {
		if errors.Is(err, transport.ErrHandshake) {
			return nil, newError(KindHandshake, "dial", addr, err)
		}
		return nil, newError(KindConnect, "dial", addr, err)
	}
	return wrap(tc, raw, RoleClient, host), nil
}

// Connect dials host:port and runs the client handshake. The returned Stream
// is ready for ReadChunk and WriteAll.
func Connect(ctx context.Context, tc *Context, tr transport.Transport, host string, port int) (*Stream, error) {
	s, err := Dial(ctx, tc, tr, host, port)
	if err != nil {
		return nil, err
	}
	if err := s.Handshake(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// AcceptHandshake runs the server handshake on an accepted raw stream. On
// failure raw is closed.
func AcceptHandshake(ctx context.Context, tc *Context, raw net.Conn) (*Stream, error) {
	if tc == nil || tc.role != RoleServer {
		_ = raw.Close()
		return nil, newError(KindHandshake, "accept", remoteOf(raw), errors.New("server context required"))
	}
	s := wrap(tc, raw, RoleServer, "")
	if err := s.Handshake(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func wrap(tc *Context, raw net.Conn, role Role, host string) *Stream {
	s := &Stream{role: role, remote: remoteOf(raw), handshakeTimeout: tc.handshakeTimeout}
	if sc, ok := raw.(transport.SecureConn); ok {
		s.conn = sc
		return s
	}
	if role == RoleClient {
		s.conn = tls.Client(raw, tc.clientConfig(host))
	} else {
		s.conn = tls.Server(raw, tc.cfg)
	}
	return s
}

func remoteOf(c net.Conn) string {
	if a := c.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// Handshake negotiates the TLS session, bounded by the Context's handshake
// timeout. Failures, including certificate verification, are KindHandshake.
func (s *Stream) Handshake(ctx context.Context) error {
	if s.closed.Load() {
		return closedError("handshake")
	}
	if s.handshaked.Load() {
		return nil
	}
	hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()
	if err := s.conn.HandshakeContext(hctx); err != nil {
		if s.closed.Load() {
			return closedError("handshake")
		}
		return newError(KindHandshake, "handshake", s.remote, err)
	}
	s.handshaked.Store(true)
	return nil
}

// ReadChunk blocks until at least one byte arrives and copies up to len(buf)
// bytes into buf. An orderly close by the peer returns io.EOF unwrapped.
// A read unblocked by Close returns a KindClosed error.
func (s *Stream) ReadChunk(buf []byte) (int, error) {
	if s.closed.Load() {
		return 0, closedError("read")
	}
	if !s.handshaked.Load() {
		return 0, newError(KindHandshake, "read", s.remote, errHandshakePending)
	}
	n, err := s.conn.Read(buf)
	if err == nil {
		return n, nil
	}
	if s.closed.Load() {
		return n, closedError("read")
	}
	if errors.Is(err, io.EOF) {
		return n, io.EOF
	}
	return n, newError(KindRead, "read", s.remote, err)
}

// WriteAll writes all of p or fails with a KindWrite error.
func (s *Stream) WriteAll(p []byte) error {
	if s.closed.Load() {
		return closedError("write")
	}
	if !s.handshaked.Load() {
		return newError(KindHandshake, "write", s.remote, errHandshakePending)
	}
	for len(p) > 0 {
		n, err := s.conn.Write(p)
		if err != nil {
			if s.closed.Load() {
				return closedError("write")
			}
			return newError(KindWrite, "write", s.remote, err)
		}
		p = p[n:]
	}
	return nil
}

// Close tears down the TLS session and the raw stream. It is idempotent and
// unblocks a concurrent ReadChunk.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err := s.conn.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// SetWriteDeadline bounds subsequent writes. The zero time clears it.
func (s *Stream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

func (s *Stream) Role() Role         { return s.role }
func (s *Stream) RemoteAddr() string { return s.remote }
func (s *Stream) Handshaked() bool   { return s.handshaked.Load() }
func (s *Stream) Closed() bool       { return s.closed.Load() }

// ConnectionState reports the negotiated TLS parameters.
func (s *Stream) ConnectionState() tls.ConnectionState { return s.conn.ConnectionState() }
