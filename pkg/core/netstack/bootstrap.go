package netstack

import (
	"github.com/CodeByAnshuman/Chat-App/pkg/config"
	"github.com/CodeByAnshuman/Chat-App/pkg/core/session"
	"github.com/CodeByAnshuman/Chat-App/pkg/secure"
	"github.com/CodeByAnshuman/Chat-App/pkg/transport"
	"github.com/CodeByAnshuman/Chat-App/pkg/transport/mem"
	tquic "github.com/CodeByAnshuman/Chat-App/pkg/transport/quic"
	ttcp "github.com/CodeByAnshuman/Chat-App/pkg/transport/tcp"
)

// NewByKind constructs a Transport by string kind. All "mem" transports of
// a process share one namespace so an in-process server and client meet.
func NewByKind(kind string) (transport.Transport, error) {
	k, err := transport.ParseKind(kind)
	if err != nil {
		return nil, ErrUnknownKind(kind)
	}
	switch k {
	case transport.KindQUIC:
		return tquic.New(), nil
	case transport.KindMem:
		return mem.Shared(), nil
	case transport.KindWinPipe:
		return newWinPipeTransport()
	default:
		return ttcp.New(), nil
	}
}

// Basic typed error for unknown kinds
type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }

// ClientTransport builds the client's transport, honouring client.proxy.
func ClientTransport(c config.ClientConfig) (transport.Transport, error) {
	if c.Proxy != "" {
		return ttcp.NewWithProxy(c.Proxy)
	}
	return NewByKind(c.Transport)
}

func tlsOptions(t config.TLSConfig) ([]secure.Option, error) {
	v, err := secure.ParseVersion(t.MinVersion)
	if err != nil {
		return nil, err
	}
	return []secure.Option{secure.WithMinVersion(v), secure.WithHandshakeTimeout(t.HandshakeTimeout)}, nil
}

// ServerContext loads the server certificate and key named by cfg.
// Unreadable or malformed files fail with secure.ErrCredential.
func ServerContext(cfg *config.Config) (*secure.Context, error) {
	opts, err := tlsOptions(cfg.TLS)
	if err != nil {
		return nil, err
	}
	return secure.NewServerContext(cfg.Server.CertFile, cfg.Server.KeyFile, opts...)
}

// ClientContext builds the client TLS context from cfg's trust settings.
func ClientContext(cfg *config.Config) (*secure.Context, error) {
	opts, err := tlsOptions(cfg.TLS)
	if err != nil {
		return nil, err
	}
	if cfg.Client.Trust == config.TrustFile {
		opts = append(opts, secure.WithRootCAFile(cfg.Client.CAFile))
	}
	if cfg.Client.ServerName != "" {
		opts = append(opts, secure.WithServerName(cfg.Client.ServerName))
	}
	return secure.NewClientContext(opts...)
}

// SessionOptions maps the session section to session.Conn options.
func SessionOptions(c config.SessionConfig) []session.Option {
	return []session.Option{
		session.WithReadBuffer(c.ReadBuffer),
		session.WithWriteTimeout(c.WriteTimeout),
	}
}
