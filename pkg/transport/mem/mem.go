package mem

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"

	"github.com/CodeByAnshuman/Chat-App/pkg/transport"
)

// Transport is an in-process transport over buffered memory pipes. Listeners
// and dialers must share the same Transport value (see Shared).
type Transport struct {
	mu        sync.Mutex
	listeners map[string]*listener
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string, _ *tls.Config) (transport.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[name]; ok {
		return nil, errors.New("mem: listener already exists")
	}
	l := &listener{name: name, owner: t, newCh: make(chan net.Conn), closeCh: make(chan struct{})}
	t.listeners[name] = l
	transport.CloseOnDone(ctx, l.closeCh, l)
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string, _ *tls.Config) (net.Conn, error) {
	t.mu.Lock()
	l := t.listeners[name]
	t.mu.Unlock()
	if l == nil {
		return nil, &net.OpError{Op: "dial", Net: "mem", Addr: memAddr(name), Err: errors.New("no such listener")}
	}
	srv, cli := newPipe(name)
	select {
	case l.newCh <- srv:
		return cli, nil
	case <-l.closeCh:
	case <-ctx.Done():
	}
	_ = srv.Close()
	_ = cli.Close()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, &net.OpError{Op: "dial", Net: "mem", Addr: memAddr(name), Err: transport.ErrListenerClosed}
}

type listener struct {
	name      string
	owner     *Transport
	newCh     chan net.Conn
	closeOnce sync.Once
	closeCh   chan struct{}
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

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
	l.closeOnce.Do(func() {
		close(l.closeCh)
		l.owner.mu.Lock()
		delete(l.owner.listeners, l.name)
		l.owner.mu.Unlock()
	})
	return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

var shared = New()

// Shared returns the process-wide Transport.
func Shared() *Transport { return shared }
