package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if !cfg.Compression.Zstd || !cfg.Compression.Brotli || !cfg.Compression.Gzip {
		t.Errorf("all encodings should be enabled by default: %+v", cfg.Compression)
	}
	if cfg.Content.Root != "public" {
		t.Errorf("Content.Root = %q, want public", cfg.Content.Root)
	}
	if cfg.Server.MaxReadRetries <= 0 {
		t.Error("MaxReadRetries should be positive so transient reads are retried")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"ephemeral port", func(c *Config) { c.Server.Port = 0 }, ""},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative retries", func(c *Config) { c.Server.MaxReadRetries = -1 }, "server.maxReadRetries"},
		{"zero body limit", func(c *Config) { c.Server.MaxBodyBytes = 0 }, "server.maxBodyBytes"},
		{"empty content root", func(c *Config) { c.Content.Root = " " }, "content.root"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"kv without dsn", func(c *Config) { c.Handlers.KV.DSN = "" }, "handlers.kv.dsn"},
		{"kv disabled without dsn", func(c *Config) {
			c.Handlers.KV.Enabled = false
			c.Handlers.KV.DSN = ""
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			cfgErr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("Validate() error = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestLoadConfig_MissingDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("", nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != DefaultConfig().Server.Port {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
}

func TestLoadConfig_ExplicitMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"), nil); err == nil {
		t.Error("expected error for explicit missing file")
	}
}

func TestLoadConfig_Formats(t *testing.T) {
	files := map[string]string{
		"webrs.json": `{"server": {"port": 9001}, "compression": {"zstd": false}}`,
		"webrs.toml": "[server]\nport = 9001\n[compression]\nzstd = false\n",
		"webrs.yaml": "server:\n  port: 9001\ncompression:\n  zstd: false\n",
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}

			cfg, err := LoadConfig(path, nil)
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if cfg.Server.Port != 9001 {
				t.Errorf("Server.Port = %d, want 9001", cfg.Server.Port)
			}
			if cfg.Compression.Zstd {
				t.Error("Compression.Zstd should be false")
			}
			if !cfg.Compression.Gzip {
				t.Error("Compression.Gzip should keep its default")
			}
			if cfg.Server.RetryDelayMs != 1000 {
				t.Errorf("Server.RetryDelayMs = %d, want default 1000", cfg.Server.RetryDelayMs)
			}
		})
	}
}

func TestLoadConfig_EnvAndFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WEBRS_CONTENT_ROOT", "/srv/www")
	t.Setenv("WEBRS_SERVER_PORT", "7000")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("port", 8080, "")
	fs.Bool("no-gzip", false, "")
	if err := fs.Parse([]string{"--port", "7100"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig("", map[string]*pflag.Flag{"server.port": fs.Lookup("port")})
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Content.Root != "/srv/www" {
		t.Errorf("Content.Root = %q, want env override", cfg.Content.Root)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("Server.Port = %d, want flag override 7100", cfg.Server.Port)
	}
}

func TestWriteTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "webrs.toml")

	cfg := DefaultConfig()
	cfg.Server.Port = 8443
	cfg.Compression.Brotli = false
	if err := cfg.WriteTOML(path); err != nil {
		t.Fatalf("WriteTOML() error = %v", err)
	}
	if err := cfg.WriteTOML(path); err == nil {
		t.Error("WriteTOML() should refuse to overwrite an existing file")
	}

	loaded, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Server.Port != 8443 {
		t.Errorf("Server.Port = %d, want 8443", loaded.Server.Port)
	}
	if loaded.Compression.Brotli {
		t.Error("Compression.Brotli should be false after round trip")
	}
	if loaded.Handlers.KV.DSN != ":memory:" {
		t.Errorf("Handlers.KV.DSN = %q", loaded.Handlers.KV.DSN)
	}
}

func TestServerConfig_Helpers(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8080, ReadTimeoutMs: 1500, RetryDelayMs: 20}

	if s.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q", s.Addr())
	}
	if s.ReadTimeout() != 1500*time.Millisecond {
		t.Errorf("ReadTimeout() = %v", s.ReadTimeout())
	}
	if s.RetryDelay() != 20*time.Millisecond {
		t.Errorf("RetryDelay() = %v", s.RetryDelay())
	}
}
