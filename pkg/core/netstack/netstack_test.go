package netstack

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/CodeByAnshuman/Chat-App/pkg/config"
	"github.com/CodeByAnshuman/Chat-App/pkg/core/session"
	"github.com/CodeByAnshuman/Chat-App/pkg/secure"
	"github.com/CodeByAnshuman/Chat-App/pkg/transport"
	"github.com/CodeByAnshuman/Chat-App/pkg/transport/mem"
	ttcp "github.com/CodeByAnshuman/Chat-App/pkg/transport/tcp"
)

func contexts(t *testing.T) (srv, cli *secure.Context) {
	t.Helper()
	certPEM, keyPEM, err := secure.GenerateSelfSigned([]string{"127.0.0.1", "localhost"}, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	srv, err = secure.NewServerContextFromPEM(certPEM, keyPEM, secure.WithHandshakeTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("server context: %v", err)
	}
	pool, _ := secure.CertPoolFromPEM(certPEM)
	cli, err = secure.NewClientContext(secure.WithRootCAs(pool))
	if err != nil {
		t.Fatalf("client context: %v", err)
	}
	return srv, cli
}

// serve runs srv on address until the test ends and returns the bound port.
func serve(t *testing.T, srv *Server, address string) net.Addr {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, address) }()
	select {
	case <-srv.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("serve: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("serve returned %v", err)
		}
	})
	return srv.Addr()
}

type collector struct {
	mu   sync.Mutex
	data []byte
	errs []error
	got  chan struct{}
}

func newCollector() *collector { return &collector{got: make(chan struct{}, 1)} }

func (c *collector) HandleMessage(_ *session.Conn, msg []byte) {
	c.mu.Lock()
	c.data = append(c.data, msg...)
	c.mu.Unlock()
	select {
	case c.got <- struct{}{}:
	default:
	}
}

func (c *collector) HandleError(_ *session.Conn, err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

// waitFor blocks until n bytes have been collected.
func (c *collector) waitFor(t *testing.T, n int) string {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		c.mu.Lock()
		if len(c.data) >= n {
			s := string(c.data)
			c.mu.Unlock()
			return s
		}
		c.mu.Unlock()
		select {
		case <-c.got:
		case <-deadline:
			t.Fatalf("timed out waiting for %d bytes", n)
		}
	}
}

// waitErrs blocks until at least n errors were reported and returns the count.
func (c *collector) waitErrs(t *testing.T, n int) int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		c.mu.Lock()
		got := len(c.errs)
		c.mu.Unlock()
		if got >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d errors, got %d", n, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func connect(t *testing.T, cli *secure.Context, tr transport.Transport, host string, port int, h session.Handler) *session.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Connect(ctx, cli, tr, host, port, h, session.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		c.Stop()
		c.Wait()
	})
	return c
}

func TestEchoEndToEnd(t *testing.T) {
	srvCtx, cliCtx := contexts(t)
	log := zaptest.NewLogger(t)
	srv := NewServer(srvCtx, ttcp.New(), session.NewEcho(session.DefaultEchoPrefix, log), WithLogger(log))
	addr := serve(t, srv, "127.0.0.1:0")

	col := newCollector()
	c := connect(t, cliCtx, ttcp.New(), "127.0.0.1", addr.(*net.TCPAddr).Port, col)
	if err := c.Send([]byte("hello\n")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := col.waitFor(t, len("Echo: hello\n")); got != "Echo: hello\n" {
		t.Fatalf("got %q", got)
	}
}

func TestThousandMessagesInOrder(t *testing.T) {
	srvCtx, cliCtx := contexts(t)
	log := zaptest.NewLogger(t)
	srv := NewServer(srvCtx, ttcp.New(), session.NewEcho(session.DefaultEchoPrefix, log), WithLogger(log))
	addr := serve(t, srv, "127.0.0.1:0")

	col := newCollector()
	c := connect(t, cliCtx, ttcp.New(), "127.0.0.1", addr.(*net.TCPAddr).Port, col)

	// Wait for each echo so chunks map one to one and the prefix stays aligned.
	var want []byte
	for i := 0; i < 1000; i++ {
		msg := []byte{byte('0' + i%10), '\n'}
		want = append(want, session.DefaultEchoPrefix...)
		want = append(want, msg...)
		if err := c.Send(msg); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		col.waitFor(t, len(want))
	}
	if got := col.waitFor(t, len(want)); got != string(want) {
		t.Fatalf("echo stream differs")
	}
}

func TestServerSurvivesFailedHandshake(t *testing.T) {
	srvCtx, cliCtx := contexts(t)
	log := zaptest.NewLogger(t)
	srv := NewServer(srvCtx, ttcp.New(), session.NewEcho(session.DefaultEchoPrefix, log), WithLogger(log))
	addr := serve(t, srv, "127.0.0.1:0")
	port := addr.(*net.TCPAddr).Port

	// Client A speaks plaintext and fails the handshake.
	bad, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_, _ = bad.Write([]byte("GET / HTTP/1.0\r\n\r\n"))
	_ = bad.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _ = bad.Read(make([]byte, 64))
	_ = bad.Close()

	// Client B is unaffected.
	col := newCollector()
	c := connect(t, cliCtx, ttcp.New(), "127.0.0.1", port, col)
	if err := c.Send([]byte("still here\n")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := col.waitFor(t, len("Echo: still here\n")); got != "Echo: still here\n" {
		t.Fatalf("got %q", got)
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.Registry().Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := srv.Registry().Len(); n != 1 {
		t.Fatalf("live connections = %d", n)
	}
}

func TestServeCancelStopsConnections(t *testing.T) {
	srvCtx, cliCtx := contexts(t)
	log := zaptest.NewLogger(t)
	srv := NewServer(srvCtx, ttcp.New(), session.NewEcho(session.DefaultEchoPrefix, log), WithLogger(log))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, "127.0.0.1:0") }()
	<-srv.Ready()

	col := newCollector()
	c := connect(t, cliCtx, ttcp.New(), "127.0.0.1", srv.Addr().(*net.TCPAddr).Port, col)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("serve: %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("client not disconnected")
	}
	if srv.Registry().Len() != 0 {
		t.Fatalf("registry not drained")
	}
}

func TestServeCancelWithUnreadEchoes(t *testing.T) {
	srvCtx, _ := contexts(t)
	log := zaptest.NewLogger(t)
	srv := NewServer(srvCtx, ttcp.New(), session.NewEcho(session.DefaultEchoPrefix, log), WithLogger(log))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, "127.0.0.1:0") }()
	<-srv.Ready()

	// The client floods the server and never reads the echoes, so the
	// server's echo writes end up blocked.
	cc, err := tls.Dial("tcp", srv.Addr().String(), &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	defer cc.Close()
	flooding := make(chan struct{})
	go func() {
		defer close(flooding)
		chunk := make([]byte, 1024)
		for {
			if _, err := cc.Write(chunk); err != nil {
				return
			}
		}
	}()
	time.Sleep(500 * time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
	if srv.Registry().Len() != 0 {
		t.Fatalf("registry not drained")
	}
	_ = cc.Close()
	<-flooding
}

func TestServerSurvivesStalledHandshake(t *testing.T) {
	certPEM, keyPEM, err := secure.GenerateSelfSigned([]string{"127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// Handshakes are serial on the acceptor, so the client must wait longer
	// than the server gives a stalled peer.
	srvCtx, err := secure.NewServerContextFromPEM(certPEM, keyPEM, secure.WithHandshakeTimeout(500*time.Millisecond))
	if err != nil {
		t.Fatalf("server context: %v", err)
	}
	pool, _ := secure.CertPoolFromPEM(certPEM)
	cliCtx, err := secure.NewClientContext(secure.WithRootCAs(pool), secure.WithHandshakeTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("client context: %v", err)
	}
	log := zaptest.NewLogger(t)
	srv := NewServer(srvCtx, ttcp.New(), session.NewEcho(session.DefaultEchoPrefix, log), WithLogger(log))
	addr := serve(t, srv, "127.0.0.1:0")

	// Client A connects and never says a word.
	stalled, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer stalled.Close()

	// Client B dials while A still holds the acceptor.
	col := newCollector()
	c := connect(t, cliCtx, ttcp.New(), "127.0.0.1", addr.(*net.TCPAddr).Port, col)
	if err := c.Send([]byte("behind a stall\n")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := col.waitFor(t, len("Echo: behind a stall\n")); got != "Echo: behind a stall\n" {
		t.Fatalf("got %q", got)
	}
}

func TestServeBindFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	srvCtx, _ := contexts(t)
	srv := NewServer(srvCtx, ttcp.New(), session.NewEcho("", nil), WithLogger(zaptest.NewLogger(t)))
	if err := srv.Serve(context.Background(), l.Addr().String()); err == nil {
		t.Fatalf("expected bind error")
	}
}

func TestMaxConnections(t *testing.T) {
	srvCtx, cliCtx := contexts(t)
	log := zaptest.NewLogger(t)
	srv := NewServer(srvCtx, ttcp.New(), session.NewEcho(session.DefaultEchoPrefix, log), WithLogger(log), WithMaxConnections(1))
	addr := serve(t, srv, "127.0.0.1:0")
	port := addr.(*net.TCPAddr).Port

	first, err := Connect(context.Background(), cliCtx, ttcp.New(), "127.0.0.1", port, newCollector())
	if err != nil {
		t.Fatalf("first connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := Connect(ctx, cliCtx, ttcp.New(), "127.0.0.1", port, newCollector()); !errors.Is(err, secure.ErrHandshake) {
		t.Fatalf("second connect beyond the bound: %v", err)
	}

	first.Stop()
	first.Wait()
	connect(t, cliCtx, ttcp.New(), "127.0.0.1", port, newCollector())
}

func TestEchoOverMemTransport(t *testing.T) {
	srvCtx, cliCtx := contexts(t)
	log := zaptest.NewLogger(t)
	tr, err := NewByKind("mem")
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	srv := NewServer(srvCtx, tr, session.NewEcho(session.DefaultEchoPrefix, log), WithLogger(log))
	serve(t, srv, "localhost:7000")

	col := newCollector()
	c := connect(t, cliCtx, mem.Shared(), "localhost", 7000, col)
	if err := c.Send([]byte("hello\n")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := col.waitFor(t, len("Echo: hello\n")); got != "Echo: hello\n" {
		t.Fatalf("got %q", got)
	}
}

func TestConnectUnreachableNoLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	_, cliCtx := contexts(t)
	col := newCollector()
	_, err = Connect(context.Background(), cliCtx, ttcp.New(), "127.0.0.1", port, col, session.WithLogger(zaptest.NewLogger(t)))
	if !errors.Is(err, secure.ErrConnect) {
		t.Fatalf("want connect error, got %v", err)
	}
	if n := col.waitErrs(t, 1); n != 1 {
		t.Fatalf("errors reported = %d", n)
	}
}

func TestNewByKind(t *testing.T) {
	for _, k := range []string{"tcp", "quic", "mem"} {
		tr, err := NewByKind(k)
		if err != nil || tr.Kind().String() != k {
			t.Fatalf("NewByKind(%q) = %v, %v", k, tr, err)
		}
	}
	var unknown ErrUnknownKind
	if _, err := NewByKind("carrier-pigeon"); !errors.As(err, &unknown) {
		t.Fatalf("want ErrUnknownKind, got %v", err)
	}
}

func TestContextsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.CertFile = "missing.crt"
	if _, err := ServerContext(cfg); !errors.Is(err, secure.ErrCredential) {
		t.Fatalf("want credential error, got %v", err)
	}
	cfg.Client.Trust = config.TrustFile
	cfg.Client.CAFile = "missing.pem"
	if _, err := ClientContext(cfg); !errors.Is(err, secure.ErrCredential) {
		t.Fatalf("want credential error, got %v", err)
	}
	cfg.Client.Proxy = "socks5://127.0.0.1:1080"
	tr, err := ClientTransport(cfg.Client)
	if err != nil || tr.Kind() != transport.KindTCP {
		t.Fatalf("proxy transport: %v %v", tr, err)
	}
}

func TestNewByKindAliases(t *testing.T) {
	for in, want := range map[string]transport.Kind{"": transport.KindTCP, "INPROC": transport.KindMem} {
		tr, err := NewByKind(in)
		if err != nil || tr.Kind() != want {
			t.Fatalf("NewByKind(%q) = %v, %v", in, tr, err)
		}
	}
}
