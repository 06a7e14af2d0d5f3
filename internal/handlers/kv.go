// Package handlers provides the built-in capabilities mounted below /api.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"webrs/internal/dispatch"
	"webrs/internal/request"
	"webrs/internal/response"
	"webrs/internal/storage"
)

// storeTimeout bounds a single storage call.
const storeTimeout = 5 * time.Second

// KVEntry is the JSON shape of a stored pair.
type KVEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// KVKeys is the JSON shape of a key listing.
type KVKeys struct {
	Keys  []string `json:"keys"`
	Count int      `json:"count"`
}

// KV exposes a SQLite-backed key/value store at /kv.
type KV struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewKV creates the handler over db.
func NewKV(db *storage.DB, logger *slog.Logger) *KV {
	return &KV{db: db, logger: logger}
}

// Capability mounts the handler.
func (h *KV) Capability() dispatch.Capability {
	return dispatch.Capability{Prefix: "/kv", Get: h.get, Post: h.post}
}

func (h *KV) get(req *request.Request) *response.Response {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	key, ok := req.Param("key")
	if !ok {
		keys, err := h.db.Keys(ctx)
		if err != nil {
			return h.storageFailure(req, err)
		}
		return jsonOrError(200, KVKeys{Keys: keys, Count: len(keys)})
	}

	e, found, err := h.db.Get(ctx, key)
	if err != nil {
		return h.storageFailure(req, err)
	}
	if !found {
		return response.Basic(404, "Not Found")
	}
	return jsonOrError(200, KVEntry{
		Key:       e.Key,
		Value:     string(e.Value),
		UpdatedAt: e.UpdatedAt.Format(time.RFC3339),
	})
}

func (h *KV) post(req *request.Request) *response.Response {
	key, ok := req.Param("key")
	if !ok || key == "" {
		return response.Basic(400, "Bad Request")
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	body := req.Body()
	if err := h.db.Put(ctx, key, body); err != nil {
		return h.storageFailure(req, err)
	}
	h.logger.Debug("Stored key", "req", req.ID(), "key", key, "bytes", len(body))
	return jsonOrError(201, KVEntry{Key: key, Value: string(body)})
}

func (h *KV) storageFailure(req *request.Request, err error) *response.Response {
	h.logger.Error("KV storage failed", "req", req.ID(), "error", err)
	return response.Basic(500, "Internal Server Error")
}

func jsonOrError(status int, v any) *response.Response {
	res, err := response.FromJSON(status, v)
	if err != nil {
		return response.FromError(err)
	}
	return res
}
