package shell

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/CodeByAnshuman/Chat-App/pkg/core/netstack"
	"github.com/CodeByAnshuman/Chat-App/pkg/core/session"
	"github.com/CodeByAnshuman/Chat-App/pkg/secure"
	"github.com/CodeByAnshuman/Chat-App/pkg/transport/tcp"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func (s *syncBuffer) waitFor(t *testing.T, sub string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(s.String(), sub) {
		if time.Now().After(deadline) {
			t.Fatalf("output %q lacks %q", s.String(), sub)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// echoServer starts an echo server on loopback and returns a Dialer for it.
func echoServer(t *testing.T) Dialer {
	t.Helper()
	certPEM, keyPEM, err := secure.GenerateSelfSigned([]string{"127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	srvCtx, err := secure.NewServerContextFromPEM(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("server context: %v", err)
	}
	pool, _ := secure.CertPoolFromPEM(certPEM)
	cliCtx, err := secure.NewClientContext(secure.WithRootCAs(pool))
	if err != nil {
		t.Fatalf("client context: %v", err)
	}

	log := zaptest.NewLogger(t)
	srv := netstack.NewServer(srvCtx, tcp.New(), session.NewEcho(session.DefaultEchoPrefix, log), netstack.WithLogger(log))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, "127.0.0.1:0")
	}()
	<-srv.Ready()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	port := srv.Addr().(*net.TCPAddr).Port
	return func(ctx context.Context, h session.Handler) (*session.Conn, error) {
		return netstack.Connect(ctx, cliCtx, tcp.New(), "127.0.0.1", port, h, session.WithLogger(log))
	}
}

func TestShellChat(t *testing.T) {
	dial := echoServer(t)
	out := &syncBuffer{}
	sh := New(out, dial, zaptest.NewLogger(t))
	ctx := context.Background()
	if err := sh.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	pr, pw := io.Pipe()
	runErr := make(chan error, 1)
	go func() { runErr <- sh.Run(ctx, pr) }()

	_, _ = io.WriteString(pw, "hello\n\n   \n")
	out.waitFor(t, "Server: Echo: hello")
	_, _ = io.WriteString(pw, "/disconnect\nlost\n")
	out.waitFor(t, "Error: Not connected to server")
	_, _ = io.WriteString(pw, "/connect\nagain\n")
	out.waitFor(t, "Server: Echo: again")
	_, _ = io.WriteString(pw, "/quit\n")

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return")
	}
	_ = pw.Close()

	got := out.String()
	if strings.Count(got, "You: ") != 2 {
		t.Fatalf("blank lines were sent: %q", got)
	}
	if !strings.Contains(got, "You: hello\n") {
		t.Fatalf("missing local echo: %q", got)
	}
	if sh.Connected() {
		t.Fatalf("still connected after quit")
	}
}

func TestShellNotConnected(t *testing.T) {
	out := &syncBuffer{}
	sh := New(out, nil, zaptest.NewLogger(t))
	sh.Send("anyone?")
	if got := out.String(); got != "Error: Not connected to server\n" {
		t.Fatalf("got %q", got)
	}
}

func TestShellConnectFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	cliCtx, err := secure.NewClientContext()
	if err != nil {
		t.Fatalf("client context: %v", err)
	}
	out := &syncBuffer{}
	sh := New(out, func(ctx context.Context, h session.Handler) (*session.Conn, error) {
		return netstack.Connect(ctx, cliCtx, tcp.New(), "127.0.0.1", port, h)
	}, zaptest.NewLogger(t))
	if err := sh.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}
	out.waitFor(t, "Error: Connection error: ")
	if got := out.String(); !strings.HasPrefix(got, "Error: Connection error: ") {
		t.Fatalf("got %q", got)
	}
}
