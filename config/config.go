package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Atlantis-Software/n3/helpers"
)

// ServerConfig holds the POP3 listener configuration.
type ServerConfig struct {
	Name              string `toml:"name"`               // Instance name used in logs
	Hostname          string `toml:"hostname"`           // Domain used in the greeting banner and APOP/CRAM-MD5 salt
	Addr              string `toml:"addr"`               // Listen address, e.g. ":110"
	TLSCertFile       string `toml:"tls_cert_file"`      // PEM certificate; enables STLS when set together with tls_key_file
	TLSKeyFile        string `toml:"tls_key_file"`       // PEM private key
	InactivityTimeout string `toml:"inactivity_timeout"` // Idle time before a connection is dropped (default: "10m")
	MaxConnections    int    `toml:"max_connections"`    // Maximum concurrent connections (0 = unlimited)
}

// GetInactivityTimeout parses the inactivity timeout duration.
func (s *ServerConfig) GetInactivityTimeout() (time.Duration, error) {
	if s.InactivityTimeout == "" {
		return 10 * time.Minute, nil
	}
	return helpers.ParseDuration(s.InactivityTimeout)
}

// TLSEnabled reports whether TLS key material was provisioned.
func (s *ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// S3Config holds the optional S3 body offload configuration.
type S3Config struct {
	Endpoint      string `toml:"endpoint"`
	DisableTLS    bool   `toml:"disable_tls"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	Encrypt       bool   `toml:"encrypt"`
	EncryptionKey string `toml:"encryption_key"` // 32-byte hex-encoded AES key
	Debug         bool   `toml:"debug"`          // Enable detailed S3 request/response tracing
}

// StorageConfig selects and configures the maildrop backend.
type StorageConfig struct {
	// Backend is "sqlite" or "maildir".
	Backend string `toml:"backend"`
	// Path is the SQLite database file, or the directory holding one
	// maildir per user, depending on the backend.
	Path string    `toml:"path"`
	S3   *S3Config `toml:"s3"` // When set, the sqlite backend keeps bodies in S3
}

// AuthConfig configures the credential source.
type AuthConfig struct {
	// UserFile is a text file with one "user:secret" entry per line.
	// Secrets may be plaintext, bcrypt, or {SSHA512} hashes.
	UserFile string `toml:"user_file"`
}

// MetricsConfig configures the HTTP endpoint exposing Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"` // e.g. "127.0.0.1:9110"
}

// Config is the top-level configuration loaded from TOML.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Logging LoggingConfig `toml:"logging"`
	Storage StorageConfig `toml:"storage"`
	Auth    AuthConfig    `toml:"auth"`
	Metrics MetricsConfig `toml:"metrics"`
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for missing or inconsistent settings.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		c.Server.Addr = ":110"
	}
	if c.Server.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			c.Server.Hostname = "localhost"
		} else {
			c.Server.Hostname = hostname
		}
	}
	if c.Server.Name == "" {
		c.Server.Name = "pop3"
	}

	if _, err := c.Server.GetInactivityTimeout(); err != nil {
		return fmt.Errorf("server.inactivity_timeout: %w", err)
	}

	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}

	switch c.Storage.Backend {
	case "":
		c.Storage.Backend = "sqlite"
	case "sqlite", "maildir":
	default:
		return fmt.Errorf("storage.backend must be \"sqlite\" or \"maildir\", got %q", c.Storage.Backend)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.S3 != nil {
		if c.Storage.Backend != "sqlite" {
			return fmt.Errorf("storage.s3 requires the sqlite backend")
		}
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.endpoint and storage.s3.bucket are required")
		}
		if c.Storage.S3.Encrypt && c.Storage.S3.EncryptionKey == "" {
			return fmt.Errorf("storage.s3.encryption_key is required when encryption is enabled")
		}
	}

	if c.Auth.UserFile == "" {
		return fmt.Errorf("auth.user_file is required")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9110"
	}

	return nil
}
