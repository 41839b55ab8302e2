package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/CodeByAnshuman/Chat-App/pkg/transport"
)

// Transport dials and listens for plain TCP streams. TLS is layered on top
// by the caller.
type Transport struct {
	dialer *net.Dialer
	proxy  proxy.ContextDialer
}

func New() *Transport {
	return &Transport{dialer: &net.Dialer{KeepAlive: 30 * time.Second}}
}

// NewWithProxy returns a Transport whose Dial goes through the SOCKS5 proxy
// described by rawURL (socks5://[user:pass@]host:port).
func NewWithProxy(rawURL string) (*Transport, error) {
	t := New()
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	var auth *proxy.Auth
	if u.User != nil {
		pw, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: pw}
	}
	d, err := proxy.SOCKS5("tcp", u.Host, auth, t.dialer)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks5 dialer does not support contexts")
	}
	t.proxy = cd
	return t, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindTCP }

func (t *Transport) Listen(ctx context.Context, address string, _ *tls.Config) (transport.Listener, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	tl := &listener{l: l, closeCh: make(chan struct{})}
	transport.CloseOnDone(ctx, tl.closeCh, tl)
	return tl, nil
}

func (t *Transport) Dial(ctx context.Context, address string, _ *tls.Config) (net.Conn, error) {
	if t.proxy != nil {
		return t.proxy.DialContext(ctx, "tcp", address)
	}
	return t.dialer.DialContext(ctx, "tcp", address)
}

type deadliner interface{ SetDeadline(time.Time) error }

type listener struct {
	l         net.Listener
	closeOnce sync.Once
	closeCh   chan struct{}
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ctx.Done() != nil {
		if d, ok := l.l.(deadliner); ok {
			_ = d.SetDeadline(time.Time{})
			stop := make(chan struct{})
			defer close(stop)
			go func() {
				select {
				case <-ctx.Done():
					_ = d.SetDeadline(time.Unix(1, 0))
				case <-stop:
				}
			}()
		}
	}
	c, err := l.l.Accept()
	if err != nil {
		select {
		case <-l.closeCh:
			return nil, transport.ErrListenerClosed
		default:
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return c, nil
}

func (l *listener) Close() error {
	err := transport.ErrListenerClosed
	l.closeOnce.Do(func() {
		close(l.closeCh)
		err = l.l.Close()
	})
	return err
}
