package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"webrs/internal/config"
	"webrs/internal/dispatch"
	"webrs/internal/encoding"
	"webrs/internal/handlers"
	"webrs/internal/metrics"
	"webrs/internal/server"
	"webrs/internal/slogutil"
	"webrs/internal/static"
	"webrs/internal/version"
)

// shutdownTimeout bounds the wait for in-flight connections on SIGINT/SIGTERM.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start serving static files from the content root and the built-in
API handlers below /api.

Examples:
  webrs serve                          # ./webrs.toml or defaults, port 8080
  webrs serve --port 9000 --content-dir ./site
  webrs serve --no-brotli --log-level debug`,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
}

func addServeFlags(f *pflag.FlagSet) {
	f.String("host", "0.0.0.0", "Host to bind to")
	f.Int("port", 8080, "Port to listen on")
	f.String("content-dir", "public", "Static content root")
	f.String("log-level", "info", "Log level (debug, info, warn, error, off)")
	f.Bool("no-zstd", false, "Disable zstd compression")
	f.Bool("no-brotli", false, "Disable brotli compression")
	f.Bool("no-gzip", false, "Disable gzip compression")
}

// serveFlagKeys maps serve flags onto config keys.
var serveFlagKeys = map[string]string{
	"host":        "server.host",
	"port":        "server.port",
	"content-dir": "content.root",
	"log-level":   "logging.level",
}

// loadServeConfig layers defaults, the config file, WEBRS_* variables and
// explicitly set flags.
func loadServeConfig(flags *pflag.FlagSet) (*config.Config, error) {
	bound := make(map[string]*pflag.Flag, len(serveFlagKeys))
	for name, key := range serveFlagKeys {
		bound[key] = flags.Lookup(name)
	}

	cfg, err := config.LoadConfig(configPath, bound)
	if err != nil {
		return nil, err
	}

	disable := map[string]*bool{
		"no-zstd":   &cfg.Compression.Zstd,
		"no-brotli": &cfg.Compression.Brotli,
		"no-gzip":   &cfg.Compression.Gzip,
	}
	for name, enabled := range disable {
		if flags.Changed(name) {
			off, _ := flags.GetBool(name)
			*enabled = !off
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd.Flags())
	if err != nil {
		return err
	}

	logger, logCloser, err := slogutil.Open(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	enabled := encoding.Set{
		Zstd:   cfg.Compression.Zstd,
		Brotli: cfg.Compression.Brotli,
		Gzip:   cfg.Compression.Gzip,
	}
	collector := metrics.NewCollector()
	registry := dispatch.NewRegistry()

	release, err := handlers.Mount(cfg.Handlers, handlers.Deps{
		Registry:  registry,
		Encodings: enabled,
		Metrics:   collector,
		Logger:    logger,
	})
	defer func() {
		if err := release(); err != nil {
			logger.Warn("Failed to release handler resources", "error", err)
		}
	}()
	if err != nil {
		return err
	}

	if info, err := os.Stat(cfg.Content.Root); err != nil || !info.IsDir() {
		logger.Warn("Content root is not a directory, static requests will return 404", "root", cfg.Content.Root)
	}

	d := dispatch.New(registry, static.New(cfg.Content.Root), logger)
	negotiator := encoding.NewNegotiator(enabled, logger, collector)
	srv := server.New(cfg.Server, d, negotiator, logger, collector)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting webrs", "version", version.Version, "addr", cfg.Server.Addr(),
		"root", cfg.Content.Root, "encodings", enabled.Names())
	fmt.Fprintf(cmd.OutOrStdout(), "webrs listening on http://%s\n", cfg.Server.Addr())

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.ListenAndServe(ctx) }()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", "error", err)
		return err
	}
	if err := <-serverErr; err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
