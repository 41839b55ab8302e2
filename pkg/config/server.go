package config

import (
	"fmt"
	"strings"
)

// ServerConfig describes the listening side.
// Example YAML:
// server:
//   listen: ":12345"
//   transport: tcp
//   cert_file: server.crt
//   key_file: server.key
//   echo_prefix: "Echo: "
//   max_connections: 0
type ServerConfig struct {
	Listen    string `mapstructure:"listen"`
	Transport string `mapstructure:"transport"`
	CertFile  string `mapstructure:"cert_file"`
	KeyFile   string `mapstructure:"key_file"`
	// EchoPrefix is prepended to every echoed message.
	EchoPrefix string `mapstructure:"echo_prefix"`
	// MaxConnections bounds concurrent connections; 0 means unbounded.
	MaxConnections int `mapstructure:"max_connections"`
}

func (s *ServerConfig) validate() error {
	kind, err := normKind("server.transport", s.Transport)
	if err != nil {
		return err
	}
	s.Transport = kind
	if strings.TrimSpace(s.Listen) == "" {
		s.Listen = ":12345"
	}
	if s.MaxConnections < 0 {
		return fmt.Errorf("invalid server.max_connections: %d", s.MaxConnections)
	}
	return nil
}
