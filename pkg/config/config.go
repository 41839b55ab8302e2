// Package config provides YAML-based configuration loading for the chat
// server and client.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/CodeByAnshuman/Chat-App/pkg/transport"
)

// Config is the root application configuration.
type Config struct {
	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Server configures the listening side.
	Server ServerConfig `mapstructure:"server"`

	// Client configures the dialing side.
	Client ClientConfig `mapstructure:"client"`

	// TLS holds protocol policy shared by both sides.
	TLS TLSConfig `mapstructure:"tls"`

	// Session tunes established connections.
	Session SessionConfig `mapstructure:"session"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: false,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/chat.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Server: ServerConfig{
			Listen:     ":12345",
			Transport:  "tcp",
			CertFile:   "server.crt",
			KeyFile:    "server.key",
			EchoPrefix: "Echo: ",
		},
		Client: ClientConfig{
			Host:      "127.0.0.1",
			Port:      12345,
			Transport: "tcp",
			Trust:     TrustSystem,
		},
		TLS: TLSConfig{
			MinVersion:       "1.2",
			HandshakeTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			ReadBuffer: 1024,
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix CHAT and `.`/`-` are replaced with `_`.
// Example: CHAT_SERVER_LISTEN=:4433
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	// Server defaults
	v.SetDefault("server.listen", cfg.Server.Listen)
	v.SetDefault("server.transport", cfg.Server.Transport)
	v.SetDefault("server.cert_file", cfg.Server.CertFile)
	v.SetDefault("server.key_file", cfg.Server.KeyFile)
	v.SetDefault("server.echo_prefix", cfg.Server.EchoPrefix)
	v.SetDefault("server.max_connections", cfg.Server.MaxConnections)
	// Client defaults
	v.SetDefault("client.host", cfg.Client.Host)
	v.SetDefault("client.port", cfg.Client.Port)
	v.SetDefault("client.transport", cfg.Client.Transport)
	v.SetDefault("client.trust", cfg.Client.Trust)
	v.SetDefault("client.ca_file", cfg.Client.CAFile)
	v.SetDefault("client.server_name", cfg.Client.ServerName)
	v.SetDefault("client.proxy", cfg.Client.Proxy)
	// TLS and session defaults
	v.SetDefault("tls.min_version", cfg.TLS.MinVersion)
	v.SetDefault("tls.handshake_timeout", cfg.TLS.HandshakeTimeout)
	v.SetDefault("session.read_buffer", cfg.Session.ReadBuffer)
	v.SetDefault("session.write_timeout", cfg.Session.WriteTimeout)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("CHAT_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `chat`
		v.SetConfigName("chat")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".chat"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if err := c.Server.validate(); err != nil {
		return err
	}
	if err := c.Client.validate(); err != nil {
		return err
	}
	if err := c.TLS.validate(); err != nil {
		return err
	}
	return c.Session.validate()
}

// normKind maps a transport kind to its canonical name, defaulting to tcp.
func normKind(key, k string) (string, error) {
	kind, err := transport.ParseKind(k)
	if err != nil {
		return "", fmt.Errorf("invalid %s: %w", key, err)
	}
	return kind.String(), nil
}
