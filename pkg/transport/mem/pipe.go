package mem

import (
	"bytes"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// buffer is one direction of a connection. Writes never block, so a TLS
// peer can flush a whole flight before the other side starts reading.
type buffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	notify chan struct{}
}

func newBuffer() *buffer { return &buffer{notify: make(chan struct{}, 1)} }

func (b *buffer) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *buffer) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
}

// conn is an in-memory net.Conn. Read deadlines are honoured; writes
// complete immediately.
type conn struct {
	r, w          *buffer
	local, remote net.Addr

	mu       sync.Mutex
	deadline time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// newPipe returns the two ends of a buffered in-memory connection.
func newPipe(name string) (srv, cli *conn) {
	a, b := newBuffer(), newBuffer()
	srv = &conn{r: a, w: b, local: memAddr(name), remote: memAddr(name + "#client"), done: make(chan struct{})}
	cli = &conn{r: b, w: a, local: memAddr(name + "#client"), remote: memAddr(name), done: make(chan struct{})}
	return srv, cli
}

func (c *conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		select {
		case <-c.done:
			return 0, c.opErr("read", net.ErrClosed)
		default:
		}
		c.r.mu.Lock()
		if c.r.buf.Len() > 0 {
			n, _ := c.r.buf.Read(p)
			c.r.mu.Unlock()
			return n, nil
		}
		closed := c.r.closed
		c.r.mu.Unlock()
		if closed {
			return 0, io.EOF
		}

		c.mu.Lock()
		dl := c.deadline
		c.mu.Unlock()
		var timer *time.Timer
		var timeout <-chan time.Time
		if !dl.IsZero() {
			d := time.Until(dl)
			if d <= 0 {
				return 0, c.opErr("read", os.ErrDeadlineExceeded)
			}
			timer = time.NewTimer(d)
			timeout = timer.C
		}
		expired := false
		select {
		case <-c.r.notify:
		case <-c.done:
		case <-timeout:
			expired = true
		}
		if timer != nil {
			timer.Stop()
		}
		if expired {
			return 0, c.opErr("read", os.ErrDeadlineExceeded)
		}
	}
}

func (c *conn) Write(p []byte) (int, error) {
	select {
	case <-c.done:
		return 0, c.opErr("write", net.ErrClosed)
	default:
	}
	c.w.mu.Lock()
	if c.w.closed {
		c.w.mu.Unlock()
		return 0, c.opErr("write", io.ErrClosedPipe)
	}
	n, _ := c.w.buf.Write(p)
	c.w.mu.Unlock()
	c.w.signal()
	return n, nil
}

// Close ends both directions. The peer reads any buffered bytes, then io.EOF.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.w.close()
		c.r.close()
	})
	return nil
}

func (c *conn) LocalAddr() net.Addr  { return c.local }
func (c *conn) RemoteAddr() net.Addr { return c.remote }

func (c *conn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	c.r.signal()
	return nil
}

func (c *conn) SetWriteDeadline(time.Time) error { return nil }

func (c *conn) opErr(op string, err error) error {
	return &net.OpError{Op: op, Net: "mem", Source: c.local, Addr: c.remote, Err: err}
}
