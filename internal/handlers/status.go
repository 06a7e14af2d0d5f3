package handlers

import (
	"time"

	"webrs/internal/dispatch"
	"webrs/internal/encoding"
	"webrs/internal/request"
	"webrs/internal/response"
	"webrs/internal/version"
)

// StatusReport describes the running server.
type StatusReport struct {
	Name          string   `json:"name" yaml:"name" toml:"name"`
	Version       string   `json:"version" yaml:"version" toml:"version"`
	Commit        string   `json:"commit" yaml:"commit" toml:"commit"`
	Uptime        string   `json:"uptime" yaml:"uptime" toml:"uptime"`
	UptimeSeconds int64    `json:"uptimeSeconds" yaml:"uptimeSeconds" toml:"uptimeSeconds"`
	Endpoints     []string `json:"endpoints" yaml:"endpoints" toml:"endpoints"`
	Encodings     []string `json:"encodings" yaml:"encodings" toml:"encodings"`
}

// Status reports server identity and uptime at /status.
type Status struct {
	started   time.Time
	registry  *dispatch.Registry
	encodings encoding.Set
	now       func() time.Time
}

// NewStatus creates the handler. Endpoints are read from registry on each request.
func NewStatus(registry *dispatch.Registry, encodings encoding.Set) *Status {
	return &Status{
		started:   time.Now(),
		registry:  registry,
		encodings: encodings,
		now:       time.Now,
	}
}

// Capability mounts the handler. POST is not handled.
func (h *Status) Capability() dispatch.Capability {
	return dispatch.Capability{Prefix: "/status", Get: h.get}
}

// Report builds the current status.
func (h *Status) Report() StatusReport {
	uptime := h.now().Sub(h.started).Truncate(time.Second)

	endpoints := []string{}
	for _, p := range h.registry.Prefixes() {
		endpoints = append(endpoints, "/api"+p)
	}

	return StatusReport{
		Name:          version.ServerName,
		Version:       version.Version,
		Commit:        version.Commit,
		Uptime:        uptime.String(),
		UptimeSeconds: int64(uptime / time.Second),
		Endpoints:     endpoints,
		Encodings:     append([]string{}, h.encodings.Names()...),
	}
}

func (h *Status) get(req *request.Request) *response.Response {
	format, _ := req.Param("format")
	res, err := response.FromValue(200, h.Report(), format)
	if err != nil {
		return response.FromError(err)
	}
	return res
}
