package netstack

import (
	"context"

	"github.com/CodeByAnshuman/Chat-App/pkg/core/session"
	"github.com/CodeByAnshuman/Chat-App/pkg/secure"
	"github.com/CodeByAnshuman/Chat-App/pkg/transport"
)

// Connect dials host:port and returns a running connection delivering to h.
// On failure no Conn is returned; h receives the error once from another
// goroutine.
func Connect(ctx context.Context, tc *secure.Context, tr transport.Transport, host string, port int, h session.Handler, opts ...session.Option) (*session.Conn, error) {
	c := session.New(h, opts...)
	if err := c.Connect(ctx, tc, tr, host, port); err != nil {
		return nil, err
	}
	return c, nil
}
