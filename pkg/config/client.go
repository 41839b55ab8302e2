package config

import (
	"fmt"
	"strings"
)

// Trust modes for ClientConfig.Trust.
const (
	TrustSystem = "system"
	TrustFile   = "file"
)

// ClientConfig describes the dialing side.
// Example YAML:
// client:
//   host: 127.0.0.1
//   port: 12345
//   trust: file
//   ca_file: server.crt
//   proxy: socks5://127.0.0.1:1080
type ClientConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Transport string `mapstructure:"transport"`
	// Trust is "system" (platform roots) or "file" (CAFile only).
	Trust  string `mapstructure:"trust"`
	CAFile string `mapstructure:"ca_file"`
	// ServerName overrides the name verified against the certificate.
	ServerName string `mapstructure:"server_name"`
	// Proxy is an optional socks5:// URL used by the tcp transport.
	Proxy string `mapstructure:"proxy"`
}

func (c *ClientConfig) validate() error {
	kind, err := normKind("client.transport", c.Transport)
	if err != nil {
		return err
	}
	c.Transport = kind
	if strings.TrimSpace(c.Host) == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid client.port: %d", c.Port)
	}
	c.Trust = strings.ToLower(strings.TrimSpace(c.Trust))
	switch c.Trust {
	case "":
		c.Trust = TrustSystem
	case TrustSystem:
	case TrustFile:
		if strings.TrimSpace(c.CAFile) == "" {
			return fmt.Errorf("client.trust %q requires client.ca_file", c.Trust)
		}
	default:
		return fmt.Errorf("invalid client.trust: %q", c.Trust)
	}
	if c.Proxy != "" && c.Transport != "tcp" {
		return fmt.Errorf("client.proxy is only supported with the tcp transport")
	}
	return nil
}
