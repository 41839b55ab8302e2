package session

import (
	"errors"
	"io"

	"go.uber.org/zap"
)

// Handler consumes the events of a Conn. Both methods run on the Conn's
// reader goroutine, except HandleError for a failed Send which runs on the
// sender's goroutine. Implementations may call Send and Stop.
type Handler interface {
	// HandleMessage receives each inbound chunk in wire order. msg is owned
	// by the handler.
	HandleMessage(c *Conn, msg []byte)
	// HandleError is called at most once, when the connection fails or the
	// peer closes it. It is not called for a local Stop.
	HandleError(c *Conn, err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	OnMessage func(c *Conn, msg []byte)
	OnError   func(c *Conn, err error)
}

func (h HandlerFuncs) HandleMessage(c *Conn, msg []byte) {
	if h.OnMessage != nil {
		h.OnMessage(c, msg)
	}
}

func (h HandlerFuncs) HandleError(c *Conn, err error) {
	if h.OnError != nil {
		h.OnError(c, err)
	}
}

// DefaultEchoPrefix is prepended to every echoed chunk.
const DefaultEchoPrefix = "Echo: "

// Echo writes every received chunk back on the same connection, prefixed.
// The reply is sent before the next read.
type Echo struct {
	Prefix string
	Log    *zap.Logger
}

// NewEcho returns an Echo logging to log (zap.L() when nil).
func NewEcho(prefix string, log *zap.Logger) *Echo {
	if log == nil {
		log = zap.L()
	}
	return &Echo{Prefix: prefix, Log: log.Named("echo")}
}

func (e *Echo) HandleMessage(c *Conn, msg []byte) {
	e.logger().Info("received",
		zap.Uint64("conn", c.ID()),
		zap.String("remote", c.RemoteAddr()),
		zap.ByteString("msg", msg),
	)
	out := make([]byte, 0, len(e.Prefix)+len(msg))
	out = append(out, e.Prefix...)
	out = append(out, msg...)
	if err := c.Send(out); err != nil {
		e.logger().Debug("echo not sent", zap.Uint64("conn", c.ID()), zap.Error(err))
	}
}

func (e *Echo) HandleError(c *Conn, err error) {
	if errors.Is(err, io.EOF) {
		e.logger().Info("peer disconnected", zap.Uint64("conn", c.ID()), zap.String("remote", c.RemoteAddr()))
		return
	}
	e.logger().Warn("connection failed", zap.Uint64("conn", c.ID()), zap.String("remote", c.RemoteAddr()), zap.Error(err))
}

func (e *Echo) logger() *zap.Logger {
	if e.Log == nil {
		return zap.L()
	}
	return e.Log
}
