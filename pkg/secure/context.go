package secure

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultHandshakeTimeout bounds a TLS handshake when no timeout option is given.
const DefaultHandshakeTimeout = 10 * time.Second

// Role is the side of the TLS handshake a Context or Stream plays.
type Role uint8

const (
	RoleClient Role = iota + 1
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// TrustMode tells where a client Context takes its trust roots from.
type TrustMode uint8

const (
	TrustSystem TrustMode = iota
	TrustFile
	TrustPool
)

func (m TrustMode) String() string {
	switch m {
	case TrustFile:
		return "file"
	case TrustPool:
		return "pool"
	default:
		return "system"
	}
}

// Context holds negotiated security configuration and manufactures secure
// streams. It is immutable once built and safe to share between goroutines.
type Context struct {
	role             Role
	trust            TrustMode
	cfg              *tls.Config
	handshakeTimeout time.Duration
}

type options struct {
	minVersion       uint16
	handshakeTimeout time.Duration
	caFile           string
	roots            *x509.CertPool
	serverName       string
	nextProtos       []string
}

// Option customizes a Context.
type Option func(*options)

// WithMinVersion sets the lowest TLS version accepted (tls.VersionTLS12 by default).
func WithMinVersion(v uint16) Option { return func(o *options) { o.minVersion = v } }

// WithHandshakeTimeout bounds every handshake performed with the Context.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithRootCAFile makes a client trust only the PEM certificates in path.
func WithRootCAFile(path string) Option { return func(o *options) { o.caFile = path } }

// WithRootCAs makes a client trust only the given pool.
func WithRootCAs(pool *x509.CertPool) Option { return func(o *options) { o.roots = pool } }

// WithServerName overrides the name verified against the server certificate.
// By default the dialed host is used.
func WithServerName(name string) Option { return func(o *options) { o.serverName = name } }

// WithNextProtos sets the ALPN protocols offered or accepted.
func WithNextProtos(protos ...string) Option {
	return func(o *options) { o.nextProtos = append([]string(nil), protos...) }
}

func buildOptions(opts []Option) options {
	o := options{minVersion: tls.VersionTLS12, handshakeTimeout: DefaultHandshakeTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.handshakeTimeout <= 0 {
		o.handshakeTimeout = DefaultHandshakeTimeout
	}
	return o
}

// NewClientContext returns a client Context. Without trust options it
// verifies servers against the system root store.
func NewClientContext(opts ...Option) (*Context, error) {
	o := buildOptions(opts)
	cfg := &tls.Config{
		MinVersion: o.minVersion,
		MaxVersion: tls.VersionTLS13,
		ServerName: o.serverName,
		NextProtos: o.nextProtos,
	}
	trust := TrustSystem
	switch {
	case o.roots != nil:
		cfg.RootCAs = o.roots
		trust = TrustPool
	case o.caFile != "":
		data, err := os.ReadFile(o.caFile)
		if err != nil {
			return nil, CredentialError(o.caFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, CredentialError(o.caFile, errors.New("no PEM certificates found"))
		}
		cfg.RootCAs = pool
		trust = TrustFile
	}
	return &Context{role: RoleClient, trust: trust, cfg: cfg, handshakeTimeout: o.handshakeTimeout}, nil
}

// NewServerContext loads a PEM certificate chain and private key from disk.
// It fails with a credential error when either file is unreadable or the pair
// does not parse.
func NewServerContext(certPath, keyPath string, opts ...Option) (*Context, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, CredentialError(certPath, err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, CredentialError(keyPath, err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, CredentialError(certPath+","+keyPath, err)
	}
	return newServerContext(cert, opts), nil
}

// NewServerContextFromPEM is NewServerContext for in-memory material.
func NewServerContextFromPEM(certPEM, keyPEM []byte, opts ...Option) (*Context, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, CredentialError("pem", err)
	}
	return newServerContext(cert, opts), nil
}

func newServerContext(cert tls.Certificate, opts []Option) *Context {
	o := buildOptions(opts)
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   o.minVersion,
		MaxVersion:   tls.VersionTLS13,
		NextProtos:   o.nextProtos,
	}
	return &Context{role: RoleServer, cfg: cfg, handshakeTimeout: o.handshakeTimeout}
}

func (c *Context) Role() Role                      { return c.role }
func (c *Context) Trust() TrustMode                { return c.trust }
func (c *Context) HandshakeTimeout() time.Duration { return c.handshakeTimeout }

// Config returns a copy of the underlying tls.Config.
func (c *Context) Config() *tls.Config { return c.cfg.Clone() }

// clientConfig returns the tls.Config used to dial host.
func (c *Context) clientConfig(host string) *tls.Config {
	cfg := c.cfg.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// ParseVersion maps "1.2" or "1.3" to the crypto/tls constant.
func ParseVersion(s string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "tls") {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported tls version %q", s)
	}
}
