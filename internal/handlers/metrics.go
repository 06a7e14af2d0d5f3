package handlers

import (
	"bytes"

	"webrs/internal/dispatch"
	"webrs/internal/metrics"
	"webrs/internal/request"
	"webrs/internal/response"
)

// Metrics serves the Prometheus exposition at /metrics.
type Metrics struct {
	collector *metrics.Collector
}

func NewMetrics(c *metrics.Collector) *Metrics {
	return &Metrics{collector: c}
}

// Capability mounts the handler.
func (h *Metrics) Capability() dispatch.Capability {
	return dispatch.Capability{Prefix: "/metrics", Get: h.get}
}

func (h *Metrics) get(*request.Request) *response.Response {
	var buf bytes.Buffer
	h.collector.WritePrometheus(&buf)
	res := response.New(200, metrics.ContentType)
	res.SetBody(buf.Bytes())
	return res
}
