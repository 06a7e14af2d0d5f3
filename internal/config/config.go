// Package config loads the webrs server configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. WEBRS_SERVER_PORT.
const EnvPrefix = "WEBRS"

// DefaultConfigName is searched for in the working directory when no path is given.
const DefaultConfigName = "webrs"

// Config represents the complete webrs configuration
type Config struct {
	Server      ServerConfig      `json:"server" mapstructure:"server" toml:"server" yaml:"server"`
	Compression CompressionConfig `json:"compression" mapstructure:"compression" toml:"compression" yaml:"compression"`
	Content     ContentConfig     `json:"content" mapstructure:"content" toml:"content" yaml:"content"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging" toml:"logging" yaml:"logging"`
	Handlers    HandlersConfig    `json:"handlers" mapstructure:"handlers" toml:"handlers" yaml:"handlers"`
}

// ServerConfig contains listener and connection settings
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host" toml:"host" yaml:"host"`
	Port int    `json:"port" mapstructure:"port" toml:"port" yaml:"port"`
	// ReadTimeoutMs bounds each socket read; an expired read counts as transient.
	ReadTimeoutMs int `json:"readTimeoutMs" mapstructure:"readTimeoutMs" toml:"readTimeoutMs" yaml:"readTimeoutMs"`
	// RetryDelayMs is the sleep between retries of a transient read error.
	RetryDelayMs int `json:"retryDelayMs" mapstructure:"retryDelayMs" toml:"retryDelayMs" yaml:"retryDelayMs"`
	// MaxReadRetries caps consecutive transient read errors before the connection is dropped.
	MaxReadRetries int   `json:"maxReadRetries" mapstructure:"maxReadRetries" toml:"maxReadRetries" yaml:"maxReadRetries"`
	MaxBodyBytes   int64 `json:"maxBodyBytes" mapstructure:"maxBodyBytes" toml:"maxBodyBytes" yaml:"maxBodyBytes"`
}

// CompressionConfig enables individual response encodings
type CompressionConfig struct {
	Zstd   bool `json:"zstd" mapstructure:"zstd" toml:"zstd" yaml:"zstd"`
	Brotli bool `json:"brotli" mapstructure:"brotli" toml:"brotli" yaml:"brotli"`
	Gzip   bool `json:"gzip" mapstructure:"gzip" toml:"gzip" yaml:"gzip"`
}

// ContentConfig points at the static content root
type ContentConfig struct {
	Root string `json:"root" mapstructure:"root" toml:"root" yaml:"root"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level" toml:"level" yaml:"level"`
	File       string `json:"file" mapstructure:"file" toml:"file" yaml:"file"`
	MaxSize    string `json:"maxSize" mapstructure:"maxSize" toml:"maxSize" yaml:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups" toml:"maxBackups" yaml:"maxBackups"`
}

// HandlersConfig toggles the built-in API handlers
type HandlersConfig struct {
	KV      KVConfig     `json:"kv" mapstructure:"kv" toml:"kv" yaml:"kv"`
	Status  ToggleConfig `json:"status" mapstructure:"status" toml:"status" yaml:"status"`
	Metrics ToggleConfig `json:"metrics" mapstructure:"metrics" toml:"metrics" yaml:"metrics"`
}

// KVConfig configures the sqlite-backed key/value handler
type KVConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled" toml:"enabled" yaml:"enabled"`
	DSN     string `json:"dsn" mapstructure:"dsn" toml:"dsn" yaml:"dsn"`
}

// ToggleConfig is a handler with nothing to configure but its switch
type ToggleConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled" toml:"enabled" yaml:"enabled"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeoutMs:  30000,
			RetryDelayMs:   1000,
			MaxReadRetries: 3,
			MaxBodyBytes:   10 << 20,
		},
		Compression: CompressionConfig{
			Zstd:   true,
			Brotli: true,
			Gzip:   true,
		},
		Content: ContentConfig{
			Root: "public",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
		Handlers: HandlersConfig{
			KV:      KVConfig{Enabled: true, DSN: ":memory:"},
			Status:  ToggleConfig{Enabled: true},
			Metrics: ToggleConfig{Enabled: true},
		},
	}
}

// setDefaults mirrors DefaultConfig into v so that partial files and
// environment overrides merge over the defaults.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.readTimeoutMs", d.Server.ReadTimeoutMs)
	v.SetDefault("server.retryDelayMs", d.Server.RetryDelayMs)
	v.SetDefault("server.maxReadRetries", d.Server.MaxReadRetries)
	v.SetDefault("server.maxBodyBytes", d.Server.MaxBodyBytes)
	v.SetDefault("compression.zstd", d.Compression.Zstd)
	v.SetDefault("compression.brotli", d.Compression.Brotli)
	v.SetDefault("compression.gzip", d.Compression.Gzip)
	v.SetDefault("content.root", d.Content.Root)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
	v.SetDefault("handlers.kv.enabled", d.Handlers.KV.Enabled)
	v.SetDefault("handlers.kv.dsn", d.Handlers.KV.DSN)
	v.SetDefault("handlers.status.enabled", d.Handlers.Status.Enabled)
	v.SetDefault("handlers.metrics.enabled", d.Handlers.Metrics.Enabled)
}

// LoadConfig loads configuration from path, or from ./webrs.{json,toml,yaml}
// when path is empty. A missing default file yields the defaults. Values are
// layered: defaults < file < WEBRS_* environment < bound flags that were set.
// flags maps config keys such as "server.port" to command-line flags.
func LoadConfig(path string, flags map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// WriteTOML writes the configuration to path as TOML, creating parent directories.
func (c *Config) WriteTOML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: "must be between 0 and 65535"}
	}
	if c.Server.ReadTimeoutMs < 0 {
		return &ConfigError{Field: "server.readTimeoutMs", Message: "must not be negative"}
	}
	if c.Server.RetryDelayMs < 0 {
		return &ConfigError{Field: "server.retryDelayMs", Message: "must not be negative"}
	}
	if c.Server.MaxReadRetries < 0 {
		return &ConfigError{Field: "server.maxReadRetries", Message: "must not be negative"}
	}
	if c.Server.MaxBodyBytes <= 0 {
		return &ConfigError{Field: "server.maxBodyBytes", Message: "must be positive"}
	}
	if strings.TrimSpace(c.Content.Root) == "" {
		return &ConfigError{Field: "content.root", Message: "must not be empty"}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "trace", "info", "warn", "warning", "error", "off", "none", "silent":
	default:
		return &ConfigError{Field: "logging.level", Message: "unknown level " + strconv.Quote(c.Logging.Level)}
	}
	if c.Handlers.KV.Enabled && c.Handlers.KV.DSN == "" {
		return &ConfigError{Field: "handlers.kv.dsn", Message: "required when the kv handler is enabled"}
	}
	return nil
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ReadTimeout returns ReadTimeoutMs as a duration; zero disables read deadlines.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMs) * time.Millisecond
}

// RetryDelay returns RetryDelayMs as a duration.
func (s ServerConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
