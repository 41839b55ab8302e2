// Package shell is the line-oriented chat front end: it reads lines, sends
// them over a session.Conn and prints what the server sends back.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/CodeByAnshuman/Chat-App/pkg/core/session"
	"github.com/CodeByAnshuman/Chat-App/pkg/secure"
)

// Dialer opens a new connection delivering events to h.
type Dialer func(ctx context.Context, h session.Handler) (*session.Conn, error)

// Shell commands; any other line is sent as a message.
const (
	CmdQuit       = "/quit"
	CmdConnect    = "/connect"
	CmdDisconnect = "/disconnect"
)

// Shell implements session.Handler for its own connections. Output is
// serialized so callbacks from the reader goroutine never interleave with
// the input loop.
type Shell struct {
	dial Dialer
	log  *zap.Logger

	outMu sync.Mutex
	out   io.Writer

	connMu sync.Mutex
	conn   *session.Conn
}

func New(out io.Writer, dial Dialer, log *zap.Logger) *Shell {
	if log == nil {
		log = zap.L()
	}
	return &Shell{dial: dial, out: out, log: log.Named("shell")}
}

// Connect replaces the current connection with a fresh one. Failures are
// printed through HandleError and returned.
func (s *Shell) Connect(ctx context.Context) error {
	s.Disconnect()
	c, err := s.dial(ctx, s)
	if err != nil {
		return err
	}
	s.connMu.Lock()
	s.conn = c
	s.connMu.Unlock()
	s.println("Connected to " + c.RemoteAddr())
	return nil
}

// Disconnect stops the current connection, if any, and waits for it.
func (s *Shell) Disconnect() {
	s.connMu.Lock()
	c := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if c != nil {
		c.Stop()
		c.Wait()
	}
}

// Connected reports whether a running connection exists.
func (s *Shell) Connected() bool {
	c := s.current()
	return c != nil && c.State() == session.Running
}

// Send transmits text with a trailing newline. Blank input is ignored.
func (s *Shell) Send(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c := s.current()
	if c == nil {
		s.printError("Not connected to server")
		return
	}
	if err := c.Send([]byte(text + "\n")); err != nil {
		if errors.Is(err, secure.ErrClosed) {
			s.printError("Not connected to server")
		}
		// Other failures reach HandleError.
		s.log.Debug("send failed", zap.Error(err))
		return
	}
	s.println("You: " + text)
}

// Run reads lines from in until EOF, ctx is done, or /quit, then disconnects.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	defer s.Disconnect()
	lines := make(chan string)
	errc := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			switch strings.TrimSpace(line) {
			case CmdQuit:
				return nil
			case CmdDisconnect:
				s.Disconnect()
				s.println("Disconnected")
			case CmdConnect:
				_ = s.Connect(ctx)
			default:
				s.Send(line)
			}
		}
	}
}

// HandleMessage prints a chunk received from the server.
func (s *Shell) HandleMessage(_ *session.Conn, msg []byte) {
	s.println("Server: " + strings.TrimRight(string(msg), "\r\n"))
}

// HandleError prints a connection failure.
func (s *Shell) HandleError(_ *session.Conn, err error) {
	if errors.Is(err, io.EOF) {
		s.printError("Connection closed by server")
		return
	}
	s.printError(describe(err))
}

func (s *Shell) current() *session.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *Shell) printError(msg string) { s.println("Error: " + msg) }

func (s *Shell) println(line string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, _ = fmt.Fprintln(s.out, line)
}

// describe turns a secure error into a short user-facing message.
func describe(err error) string {
	switch secure.KindOf(err) {
	case secure.KindConnect:
		return "Connection error: " + rootCause(err)
	case secure.KindHandshake:
		return "TLS handshake failed: " + rootCause(err)
	case secure.KindRead, secure.KindWrite:
		return "Network error: " + rootCause(err)
	default:
		return err.Error()
	}
}

func rootCause(err error) string {
	var se *secure.Error
	if errors.As(err, &se) && se.Err != nil {
		return se.Err.Error()
	}
	return err.Error()
}
