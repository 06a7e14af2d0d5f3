package handlers

import (
	"fmt"
	"log/slog"

	"webrs/internal/config"
	"webrs/internal/dispatch"
	"webrs/internal/encoding"
	"webrs/internal/metrics"
	"webrs/internal/storage"
)

// Deps are the collaborators shared by the built-in handlers.
type Deps struct {
	Registry  *dispatch.Registry
	Encodings encoding.Set
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// Mount registers every enabled built-in handler on deps.Registry. The
// returned function releases handler resources and is never nil.
func Mount(cfg config.HandlersConfig, deps Deps) (func() error, error) {
	release := func() error { return nil }

	if cfg.Status.Enabled {
		deps.Registry.Register(NewStatus(deps.Registry, deps.Encodings).Capability())
	}

	if cfg.KV.Enabled {
		db, err := storage.Open(cfg.KV.DSN, deps.Logger)
		if err != nil {
			return release, fmt.Errorf("kv handler: %w", err)
		}
		deps.Registry.Register(NewKV(db, deps.Logger).Capability())
		release = db.Close
	}

	if cfg.Metrics.Enabled {
		deps.Registry.Register(NewMetrics(deps.Metrics).Capability())
	}

	deps.Logger.Debug("Mounted built-in handlers", "prefixes", deps.Registry.Prefixes())
	return release, nil
}
