package dispatch

import (
	"errors"
	"log/slog"
	"strings"

	"webrs/internal/request"
	"webrs/internal/response"
	"webrs/internal/static"
)

// APIPrefix marks paths routed to registered capabilities.
const APIPrefix = "/api"

// AllowedMethods is advertised on every OPTIONS response.
const AllowedMethods = "GET, POST, OPTIONS"

// Content serves non-API GET requests.
type Content interface {
	Lookup(path string) (*static.File, error)
}

// Dispatcher selects the response for a parsed request.
type Dispatcher struct {
	registry *Registry
	content  Content
	logger   *slog.Logger
}

// New creates a dispatcher. content may be nil, in which case every static
// lookup is a 404.
func New(registry *Registry, content Content, logger *slog.Logger) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Dispatcher{
		registry: registry,
		content:  content,
		logger:   logger,
	}
}

// Registry returns the registry consulted for /api paths.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch returns the response for req, or nil when no API handler matched.
func (d *Dispatcher) Dispatch(req *request.Request) *response.Response {
	if req.Method() == request.OPTIONS {
		res := response.New(204, "text/plain")
		res.SetHeader("allow", AllowedMethods)
		return res
	}

	if rest, ok := strings.CutPrefix(req.Path(), APIPrefix); ok {
		return d.dispatchAPI(rest, req)
	}

	switch req.Method() {
	case request.GET:
		return d.serveStatic(req)
	default:
		return response.Basic(405, "Method Not Allowed")
	}
}

func (d *Dispatcher) dispatchAPI(rest string, req *request.Request) *response.Response {
	if rest == "" {
		return response.Basic(400, "Bad Request")
	}

	for _, e := range d.registry.Entries() {
		if !strings.HasPrefix(rest, e.Prefix()) {
			continue
		}
		if res := e.Call(req.Method(), req); res != nil {
			d.logger.Debug("API handler matched", "req", req.ID(), "prefix", e.Prefix(), "status", res.Status())
			return res
		}
	}

	d.logger.Debug("No API handler produced a response", "req", req.ID(), "path", req.Path())
	return nil
}

func (d *Dispatcher) serveStatic(req *request.Request) *response.Response {
	if d.content == nil {
		return response.Basic(404, "Not Found")
	}

	f, err := d.content.Lookup(req.Path())
	if err != nil {
		if !errors.Is(err, static.ErrNotFound) {
			d.logger.Error("Static lookup failed", "req", req.ID(), "path", req.Path(), "error", err)
			return response.Basic(500, "Internal Server Error")
		}
		return response.Basic(404, "Not Found")
	}

	if inm, ok := req.Header("if-none-match"); ok && f.ETag != "" && static.Matches(inm, f.ETag) {
		res := response.New(304, f.MIME)
		res.SetHeader("etag", f.ETag)
		return res
	}

	res := response.New(200, f.MIME)
	if f.ETag != "" {
		res.SetHeader("etag", f.ETag)
	}
	res.SetBody(f.Body)
	return res
}
