// Package config defines the bridge configuration and its loader.
package config

import (
	"fmt"
	"time"
)

// Transport kinds supported for a backend.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Defaults applied by SetDefaults.
const (
	DefaultConnectTimeout     = 10 * time.Second
	DefaultHandshakeTimeout   = 5 * time.Second
	DefaultCallTimeout        = 15 * time.Second
	DefaultMaxConnectAttempts = 3
	DefaultMaxHTTPRetries     = 3
)

// Config is the root bridge configuration.
type Config struct {
	Backends map[string]*BackendConfig `koanf:"backends" yaml:"backends"`
	Logging  LoggingConfig             `koanf:"logging" yaml:"logging"`
	Metrics  MetricsConfig             `koanf:"metrics" yaml:"metrics"`
}

// BackendConfig describes one named tool backend.
type BackendConfig struct {
	// Name is filled from the map key during processing.
	Name string `koanf:"-" yaml:"-"`

	// Transport is "stdio" (subprocess) or "http".
	Transport string `koanf:"transport" yaml:"transport"`

	// Command and Args launch the subprocess for stdio backends.
	Command string            `koanf:"command" yaml:"command"`
	Args    []string          `koanf:"args" yaml:"args"`
	Env     map[string]string `koanf:"env" yaml:"env"`

	// URL is the base URL for HTTP backends.
	URL string `koanf:"url" yaml:"url"`

	// ReadyMarker, when set, is a substring the supervisor waits for on the
	// subprocess stderr before issuing the initialize call.
	ReadyMarker string `koanf:"ready_marker" yaml:"ready_marker"`

	// Eager connects the backend at startup instead of on first dispatch.
	Eager bool `koanf:"eager" yaml:"eager"`

	MaxConnectAttempts int           `koanf:"max_connect_attempts" yaml:"max_connect_attempts"`
	ConnectTimeout     time.Duration `koanf:"connect_timeout" yaml:"connect_timeout"`
	HandshakeTimeout   time.Duration `koanf:"handshake_timeout" yaml:"handshake_timeout"`
	CallTimeout        time.Duration `koanf:"call_timeout" yaml:"call_timeout"`
	MaxHTTPRetries     int           `koanf:"max_http_retries" yaml:"max_http_retries"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
	File   string `koanf:"file" yaml:"file"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
}

// ProcessConfigPipeline runs the standard preprocess/defaults/validate chain.
func ProcessConfigPipeline(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: config cannot be nil")
	}

	cfg.PreProcess()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) PreProcess() {
	if c.Backends == nil {
		c.Backends = make(map[string]*BackendConfig)
	}
	for name, backend := range c.Backends {
		if backend == nil {
			backend = &BackendConfig{}
			c.Backends[name] = backend
		}
		backend.Name = name
	}
}

func (c *Config) SetDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9464"
	}

	for _, backend := range c.Backends {
		if backend.Transport == "" {
			if backend.Command != "" {
				backend.Transport = TransportStdio
			} else if backend.URL != "" {
				backend.Transport = TransportHTTP
			}
		}
		if backend.MaxConnectAttempts == 0 {
			backend.MaxConnectAttempts = DefaultMaxConnectAttempts
		}
		if backend.ConnectTimeout == 0 {
			backend.ConnectTimeout = DefaultConnectTimeout
		}
		if backend.HandshakeTimeout == 0 {
			backend.HandshakeTimeout = DefaultHandshakeTimeout
		}
		if backend.CallTimeout == 0 {
			backend.CallTimeout = DefaultCallTimeout
		}
		if backend.MaxHTTPRetries == 0 {
			backend.MaxHTTPRetries = DefaultMaxHTTPRetries
		}
	}
}

func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	for name, backend := range c.Backends {
		if name == "" {
			return fmt.Errorf("backend name cannot be empty")
		}
		switch backend.Transport {
		case TransportStdio:
			if backend.Command == "" {
				return fmt.Errorf("backend %q: command is required for stdio transport", name)
			}
		case TransportHTTP:
			if backend.URL == "" {
				return fmt.Errorf("backend %q: url is required for http transport", name)
			}
		default:
			return fmt.Errorf("backend %q: unsupported transport %q", name, backend.Transport)
		}
	}

	return nil
}
