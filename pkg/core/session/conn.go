package session

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

	"go.uber.org/zap"

	"github.com/CodeByAnshuman/Chat-App/pkg/secure"
	"github.com/CodeByAnshuman/Chat-App/pkg/transport"
)

// DefaultReadBuffer is the largest chunk delivered by a single read.
const DefaultReadBuffer = 1024

// ErrAlreadyStarted is returned by Connect and Accept on a used Conn.
var ErrAlreadyStarted = errors.New("session: connection already started")

var nextID atomic.Uint64

// Conn is one secure duplex connection. It owns its secure.Stream, runs a
// reader goroutine that feeds the Handler, and serializes writes from Send.
//
// A Conn is single use: after Stop (or any failure) a new Conn must be
// created to connect again.
type Conn struct {
	id           uint64
	handler      Handler
	log          *zap.Logger
	readBuffer   int
	writeTimeout time.Duration

	// guard is the teardown guard. Send holds the read side to pick up the
	// stream, the stop transition holds the write side while closing it.
	guard     sync.RWMutex
	state     State
	stream    *secure.Stream
	remote    string
	abort     context.CancelFunc
	localStop bool

	wmu sync.Mutex

	reportOnce sync.Once
	settleOnce sync.Once
	settled    chan struct{}
	doneOnce   sync.Once
	done       chan struct{}
}

// Option customizes a Conn.
type Option func(*Conn)

// WithLogger sets the logger (zap.L() by default).
func WithLogger(l *zap.Logger) Option { return func(c *Conn) { c.log = l } }

// WithReadBuffer sets the maximum chunk size handed to HandleMessage.
func WithReadBuffer(n int) Option { return func(c *Conn) { c.readBuffer = n } }

// WithWriteTimeout bounds each Send. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option { return func(c *Conn) { c.writeTimeout = d } }

// New returns an Idle Conn delivering events to h.
func New(h Handler, opts ...Option) *Conn {
	c := &Conn{
		id:         nextID.Add(1),
		handler:    h,
		log:        zap.L(),
		readBuffer: DefaultReadBuffer,
		settled:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.handler == nil {
		c.handler = HandlerFuncs{}
	}
	if c.log == nil {
		c.log = zap.L()
	}
	if c.readBuffer <= 0 {
		c.readBuffer = DefaultReadBuffer
	}
	c.log = c.log.With(zap.Uint64("conn", c.id))
	return c
}

func (c *Conn) ID() uint64 { return c.id }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.guard.RLock()
	defer c.guard.RUnlock()
	return c.state
}

// RemoteAddr is the dialed host:port or the peer address of an accepted conn.
func (c *Conn) RemoteAddr() string {
	c.guard.RLock()
	defer c.guard.RUnlock()
	return c.remote
}

// ConnectionState reports the negotiated TLS parameters once Running.
func (c *Conn) ConnectionState() (tls.ConnectionState, bool) {
	c.guard.RLock()
	defer c.guard.RUnlock()
	if c.stream == nil || !c.stream.Handshaked() {
		return tls.ConnectionState{}, false
	}
	return c.stream.ConnectionState(), true
}

// Done is closed once the Conn is Stopped and its reader has exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Wait blocks until Done is closed.
func (c *Conn) Wait() { <-c.done }

// Connect dials host:port through tr, runs the client handshake and starts
// the reader. On failure the Conn ends Stopped and the error is returned.
// The Handler also receives it once, asynchronously; Wait joins that report.
// There is no retry.
func (c *Conn) Connect(ctx context.Context, tc *secure.Context, tr transport.Transport, host string, port int) error {
	actx, err := c.begin(ctx, Connecting, net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	c.log.Debug("connecting", zap.String("remote", c.RemoteAddr()), zap.Stringer("transport", tr.Kind()))

	s, err := secure.Dial(actx, tc, tr, host, port)
	if err == nil {
		err = c.advance(Connecting, Handshaking, s)
	}
	if err == nil {
		err = s.Handshake(actx)
	}
	if err == nil {
		err = c.run(s)
	}
	if err != nil {
		if s != nil {
			_ = s.Close()
		}
		c.fail(err)
		return err
	}
	return nil
}

// Accept runs the server handshake on an accepted raw stream and starts the
// reader. Failure handling matches Connect.
func (c *Conn) Accept(ctx context.Context, tc *secure.Context, raw net.Conn) error {
	remote := ""
	if a := raw.RemoteAddr(); a != nil {
		remote = a.String()
	}
	actx, err := c.begin(ctx, Handshaking, remote)
	if err != nil {
		_ = raw.Close()
		return err
	}

	s, err := secure.AcceptHandshake(actx, tc, raw)
	if err == nil {
		err = c.advance(Handshaking, Handshaking, s)
	}
	if err == nil {
		err = c.run(s)
	}
	if err != nil {
		if s != nil {
			_ = s.Close()
		}
		c.fail(err)
		return err
	}
	return nil
}

// begin moves Idle to first and returns the context of the attempt, which a
// concurrent Stop cancels.
func (c *Conn) begin(ctx context.Context, first State, remote string) (context.Context, error) {
	c.guard.Lock()
	defer c.guard.Unlock()
	if c.state != Idle {
		if c.state == Stopped {
			return nil, secure.ClosedError("connect")
		}
		return nil, ErrAlreadyStarted
	}
	actx, cancel := context.WithCancel(ctx)
	c.abort = cancel
	c.state = first
	c.remote = remote
	return actx, nil
}

// advance records s and moves from to next unless a Stop intervened.
func (c *Conn) advance(from, next State, s *secure.Stream) error {
	c.guard.Lock()
	defer c.guard.Unlock()
	if c.state != from {
		return secure.ClosedError("connect")
	}
	c.stream = s
	c.state = next
	return nil
}

// run moves Handshaking to Running and starts the reader.
func (c *Conn) run(s *secure.Stream) error {
	c.guard.Lock()
	defer c.guard.Unlock()
	if c.state != Handshaking {
		return secure.ClosedError("connect")
	}
	c.state = Running
	c.abort()
	go c.readLoop(s)
	c.log.Info("connection established",
		zap.String("remote", c.remote),
		zap.Stringer("role", s.Role()),
		zap.String("tls", tls.VersionName(s.ConnectionState().Version)),
	)
	return nil
}

// fail finishes a Connect or Accept that never reached Running. The error is
// reported off the caller's goroutine and Done closes after the report.
func (c *Conn) fail(err error) {
	c.guard.Lock()
	local := c.localStop
	if c.abort != nil {
		c.abort()
	}
	c.state = Stopped
	c.guard.Unlock()

	if local {
		c.settle()
		c.finish()
		return
	}
	c.log.Debug("connection attempt failed", zap.String("remote", c.RemoteAddr()), zap.Error(err))
	go func() {
		c.report(err)
		c.settle()
		c.finish()
	}()
}

// Send writes p in full. Concurrent Sends are serialized in call order of
// lock acquisition. After stop it returns a closed error. A write failure
// stops the Conn and is reported to the Handler from another goroutine.
//
// The teardown guard is only held to pick up the stream, so a Send blocked
// on a peer that stopped reading never delays Stop. Stop closes the stream,
// which breaks the pending write and surfaces as a closed error.
func (c *Conn) Send(p []byte) error {
	c.guard.RLock()
	if c.state != Running {
		c.guard.RUnlock()
		return secure.ClosedError("send")
	}
	s := c.stream
	c.guard.RUnlock()

	c.wmu.Lock()
	if c.writeTimeout > 0 {
		_ = s.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	err := s.WriteAll(p)
	c.wmu.Unlock()

	if err != nil {
		if secure.KindOf(err) != secure.KindClosed {
			c.terminate(err)
		}
		return err
	}
	return nil
}

// Stop tears the connection down. It is idempotent, safe from any goroutine
// including the Handler, and does not wait for the reader; use Wait for that.
// A Stop during Connecting or Handshaking aborts the attempt.
func (c *Conn) Stop() {
	c.guard.Lock()
	switch c.state {
	case Stopping, Stopped:
		c.guard.Unlock()
		return
	case Idle:
		c.state = Stopped
		c.localStop = true
		c.guard.Unlock()
		c.settle()
		c.finish()
		return
	}
	prev := c.state
	c.localStop = true
	c.state = Stopping
	if c.abort != nil {
		c.abort()
	}
	if c.stream != nil {
		_ = c.stream.Close()
	}
	if prev == Running {
		// An aborted attempt reaches Stopped through fail.
		c.state = Stopped
	}
	c.guard.Unlock()

	if prev == Running {
		c.settle()
	}
	c.log.Debug("connection stopped", zap.Stringer("from", prev))
}

// terminate performs the stop transition for a remote close or an I/O
// failure and reports cause unless the Conn is already stopping. The report
// runs on its own goroutine so a Handler never sees it on the Send caller.
func (c *Conn) terminate(cause error) {
	c.guard.Lock()
	if c.state != Running {
		c.guard.Unlock()
		return
	}
	c.state = Stopping
	_ = c.stream.Close()
	c.state = Stopped
	c.guard.Unlock()

	if errors.Is(cause, io.EOF) {
		c.log.Info("peer closed connection", zap.String("remote", c.RemoteAddr()))
	} else {
		c.log.Warn("connection failed", zap.String("remote", c.RemoteAddr()), zap.Error(cause))
	}
	go func() {
		c.report(cause)
		c.settle()
	}()
}

func (c *Conn) readLoop(s *secure.Stream) {
	defer func() {
		<-c.settled
		c.finish()
	}()
	buf := make([]byte, c.readBuffer)
	for {
		n, err := s.ReadChunk(buf)
		if n > 0 {
			msg := make([]byte, n)
			copy(msg, buf[:n])
			c.handler.HandleMessage(c, msg)
		}
		if err != nil {
			if err == io.EOF {
				err = secure.PeerClosed(s.RemoteAddr())
			}
			c.terminate(err)
			return
		}
	}
}

func (c *Conn) report(err error) {
	c.reportOnce.Do(func() { c.handler.HandleError(c, err) })
}

func (c *Conn) settle() { c.settleOnce.Do(func() { close(c.settled) }) }
func (c *Conn) finish() { c.doneOnce.Do(func() { close(c.done) }) }
