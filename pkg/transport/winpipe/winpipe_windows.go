//go:build windows

package winpipe

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"github.com/Microsoft/go-winio"

	"github.com/CodeByAnshuman/Chat-App/pkg/transport"
)

// Transport opens raw streams over Windows named pipes (\\.\pipe\name).
type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindWinPipe }

func (t *Transport) Listen(ctx context.Context, pipeName string, _ *tls.Config) (transport.Listener, error) {
	l, err := winio.ListenPipe(pipeName, nil)
	if err != nil {
		return nil, err
	}
	wl := &listener{l: l, newCh: make(chan net.Conn), closeCh: make(chan struct{})}
	go wl.acceptLoop()
	transport.CloseOnDone(ctx, wl.closeCh, wl)
	return wl, nil
}

func (t *Transport) Dial(ctx context.Context, pipeName string, _ *tls.Config) (net.Conn, error) {
	return winio.DialPipeContext(ctx, pipeName)
}

type listener struct {
	l         net.Listener
	newCh     chan net.Conn
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
	for {
		c, err := l.l.Accept()
		if err != nil {
			return
		}
		select {
		case l.newCh <- c:
		case <-l.closeCh:
			_ = c.Close()
			return
		}
	}
}
