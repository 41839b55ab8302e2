package netstack

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CodeByAnshuman/Chat-App/pkg/core/session"
	"github.com/CodeByAnshuman/Chat-App/pkg/secure"
	"github.com/CodeByAnshuman/Chat-App/pkg/transport"
)

// Server accepts raw streams, runs the TLS handshake on each, and hands the
// established connections to a session.Handler.
type Server struct {
	tc       *secure.Context
	tr       transport.Transport
	handler  session.Handler
	registry *session.Registry
	log      *zap.Logger
	connOpts []session.Option
	sem      chan struct{}
	wg       sync.WaitGroup

	ready chan struct{}
	addr  net.Addr
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger (zap.L() by default).
func WithLogger(l *zap.Logger) ServerOption { return func(s *Server) { s.log = l } }

// WithMaxConnections bounds the number of live connections. When the bound
// is reached the acceptor waits for one to finish. n <= 0 means unbounded.
func WithMaxConnections(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithSessionOptions applies opts to every accepted connection.
func WithSessionOptions(opts ...session.Option) ServerOption {
	return func(s *Server) { s.connOpts = append(s.connOpts, opts...) }
}

// NewServer returns a Server. tc must be a server context.
func NewServer(tc *secure.Context, tr transport.Transport, h session.Handler, opts ...ServerOption) *Server {
	s := &Server{
		tc:       tc,
		tr:       tr,
		handler:  h,
		registry: session.NewRegistry(),
		log:      zap.L(),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.L()
	}
	return s
}

// Ready is closed once Serve has bound its address.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the bound address; valid after Ready is closed.
func (s *Server) Addr() net.Addr { return s.addr }

// Registry exposes the live connections.
func (s *Server) Registry() *session.Registry { return s.registry }

// Serve binds address and runs the accept loop: accept, handshake, register,
// start, repeat. A failed handshake is logged and never stops the loop.
// Serve returns an error only when binding fails; when ctx is cancelled it
// stops every live connection and returns nil.
func (s *Server) Serve(ctx context.Context, address string) error {
	l, err := s.tr.Listen(ctx, address, s.tc.Config())
	if err != nil {
		return pkgerrors.Wrapf(err, "listen %s %s", s.tr.Kind(), address)
	}
	defer l.Close()
	s.addr = l.Addr()
	close(s.ready)
	s.log.Info("listening", zap.Stringer("kind", s.tr.Kind()), zap.String("addr", l.Addr().String()))

	defer func() {
		s.registry.StopAll()
		s.wg.Wait()
		s.log.Info("server stopped", zap.String("addr", l.Addr().String()))
	}()
	for {
		if !s.acquire(ctx) {
			return nil
		}
		raw, err := l.Accept(ctx)
		if err != nil {
			s.release()
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, transport.ErrListenerClosed) {
				return nil
			}
			s.log.Warn("accept failed", zap.String("addr", l.Addr().String()), zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.handle(ctx, raw)
	}
}

// handle runs the handshake synchronously and registers the connection.
func (s *Server) handle(ctx context.Context, raw net.Conn) {
	c := session.New(s.handler, append(append([]session.Option(nil), s.connOpts...), session.WithLogger(s.log))...)
	if err := c.Accept(ctx, s.tc, raw); err != nil {
		s.release()
		s.log.Warn("handshake failed", zap.Uint64("conn", c.ID()), zap.String("remote", c.RemoteAddr()), zap.Error(err))
		return
	}
	s.registry.Add(c)
	s.log.Info("client connected",
		zap.Uint64("conn", c.ID()),
		zap.String("remote", c.RemoteAddr()),
		zap.Int("live", s.registry.Len()),
	)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-c.Done()
		s.registry.Remove(c.ID())
		s.release()
		s.log.Debug("client removed", zap.Uint64("conn", c.ID()))
	}()
}

func (s *Server) acquire(ctx context.Context) bool {
	if s.sem == nil {
		return ctx.Err() == nil
	}
	select {
	case s.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) release() {
	if s.sem != nil {
		<-s.sem
	}
}
