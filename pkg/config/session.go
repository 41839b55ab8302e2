package config

import (
	"fmt"
	"strings"
	"time"
)

// TLSConfig holds the protocol-version policy and handshake bound.
type TLSConfig struct {
	// MinVersion is "1.2" or "1.3". The maximum is always TLS 1.3.
	MinVersion       string        `mapstructure:"min_version"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

func (t *TLSConfig) validate() error {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(t.MinVersion)), "tls") {
	case "":
		t.MinVersion = "1.2"
	case "1.2", "1.3":
	default:
		return fmt.Errorf("invalid tls.min_version: %q", t.MinVersion)
	}
	if t.HandshakeTimeout <= 0 {
		t.HandshakeTimeout = 10 * time.Second
	}
	return nil
}

// SessionConfig tunes established connections.
type SessionConfig struct {
	// ReadBuffer is the largest chunk delivered per read.
	ReadBuffer int `mapstructure:"read_buffer"`
	// WriteTimeout bounds each send; 0 disables it.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s *SessionConfig) validate() error {
	if s.ReadBuffer <= 0 {
		s.ReadBuffer = 1024
	}
	if s.WriteTimeout < 0 {
		return fmt.Errorf("invalid session.write_timeout: %s", s.WriteTimeout)
	}
	return nil
}
