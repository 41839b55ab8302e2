package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/CodeByAnshuman/Chat-App/pkg/transport"
)

// DefaultNextProto is the ALPN protocol used when the TLS config names none.
const DefaultNextProto = "chat"

// preamble is written by the dialer on the stream it opens so that the peer's
// AcceptStream returns without waiting for the first chat message.
var preamble = []byte{0}

// Transport carries one bidirectional QUIC stream per connection. QUIC
// negotiates TLS 1.3 itself, so the returned conns implement
// transport.SecureConn and are already authenticated.
type Transport struct {
	quicConf *quicgo.Config
	log      *zap.Logger
}

func New() *Transport {
	return &Transport{
		quicConf: &quicgo.Config{
			HandshakeIdleTimeout: 10 * time.Second,
			MaxIdleTimeout:       60 * time.Second,
			KeepAlivePeriod:      15 * time.Second,
		},
		log: zap.L().Named("quic"),
	}
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string, tc *tls.Config) (transport.Listener, error) {
	if tc == nil {
		return nil, errors.New("quic: tls config required")
	}
	l, err := quicgo.ListenAddr(address, quicTLS(tc), t.quicConf)
	if err != nil {
		return nil, err
	}
	ql := &listener{l: l, log: t.log, newCh: make(chan *conn), closeCh: make(chan struct{})}
	go ql.acceptLoop()
	transport.CloseOnDone(ctx, ql.closeCh, ql)
	return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string, tc *tls.Config) (net.Conn, error) {
	if tc == nil {
		return nil, errors.New("quic: tls config required")
	}
	qc, err := quicgo.DialAddr(ctx, address, quicTLS(tc), t.quicConf)
	if err != nil {
		if isHandshakeErr(err) {
			return nil, fmt.Errorf("%w: %w", transport.ErrHandshake, err)
		}
		return nil, err
	}
	st, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "")
		return nil, err
	}
	if _, err := st.Write(preamble); err != nil {
		_ = qc.CloseWithError(0, "")
		return nil, err
	}
	return &conn{Stream: st, qc: qc}, nil
}

func quicTLS(tc *tls.Config) *tls.Config {
	c := tc.Clone()
	if len(c.NextProtos) == 0 {
		c.NextProtos = []string{DefaultNextProto}
	}
	c.MinVersion = tls.VersionTLS13
	return c
}

func isHandshakeErr(err error) bool {
	var te *quicgo.TransportError
	if errors.As(err, &te) && te.ErrorCode.IsCryptoError() {
		return true
	}
	var he *quicgo.HandshakeTimeoutError
	return errors.As(err, &he)
}

// ---- Listener ----

type listener struct {
	l         *quicgo.Listener
	log       *zap.Logger
	newCh     chan *conn
	closeOnce sync.Once
	closeCh   chan struct{}
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (net.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, transport.ErrListenerClosed
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *listener) Close() error {
	err := transport.ErrListenerClosed
	l.closeOnce.Do(func() {
		close(l.closeCh)
		err = l.l.Close()
	})
	return err
}

func (l *listener) acceptLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-l.closeCh
		cancel()
	}()
	for {
		qc, err := l.l.Accept(ctx)
		if err != nil {
			return
		}
		go l.acceptStream(ctx, qc)
	}
}

// acceptStream waits for the dialer's stream and hands the conn to Accept.
func (l *listener) acceptStream(ctx context.Context, qc quicgo.Connection) {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	st, err := qc.AcceptStream(sctx)
	if err != nil {
		l.log.Debug("quic stream accept failed", zap.Stringer("remote", qc.RemoteAddr()), zap.Error(err))
		_ = qc.CloseWithError(0, "")
		return
	}
	var b [1]byte
	if _, err := io.ReadFull(st, b[:]); err != nil {
		_ = qc.CloseWithError(0, "")
		return
	}
	c := &conn{Stream: st, qc: qc}
	select {
	case l.newCh <- c:
	case <-l.closeCh:
		_ = c.Close()
	}
}

// ---- Conn ----

// conn adapts a QUIC stream and its connection to transport.SecureConn.
type conn struct {
	quicgo.Stream
	qc        quicgo.Connection
	closeOnce sync.Once
}

func (c *conn) LocalAddr() net.Addr  { return c.qc.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr { return c.qc.RemoteAddr() }

func (c *conn) Read(p []byte) (int, error) {
	n, err := c.Stream.Read(p)
	if err != nil && isRemoteClose(err) {
		err = io.EOF
	}
	return n, err
}

// HandshakeContext reports the QUIC handshake result. DialAddr and the
// listener only hand out connections whose handshake already finished.
func (c *conn) HandshakeContext(ctx context.Context) error {
	if c.qc.ConnectionState().TLS.HandshakeComplete {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.qc.Context().Done():
		return context.Cause(c.qc.Context())
	}
}

func (c *conn) ConnectionState() tls.ConnectionState { return c.qc.ConnectionState().TLS }

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.Stream.Close()
		err = c.qc.CloseWithError(0, "")
	})
	return err
}

// isRemoteClose reports an orderly close of the connection by the peer.
func isRemoteClose(err error) bool {
	var ae *quicgo.ApplicationError
	return errors.As(err, &ae) && ae.Remote && ae.ErrorCode == 0
}
