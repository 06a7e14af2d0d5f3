// Package metrics collects server counters and renders them in the Prometheus
// text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"webrs/internal/version"
)

// ContentType is the content type of WritePrometheus output.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

// Collector holds every server metric. A nil *Collector is valid and records nothing.
type Collector struct {
	connectionsTotal *Counter
	requestsTotal    *Counter
	responsesTotal   *Counter
	encodingsTotal   *Counter
	parseErrorsTotal *Counter

	requestDuration *Histogram

	connectionsActive *Gauge
	goroutines        *Gauge

	startTime time.Time
}

// Counter is a monotonically increasing counter
type Counter struct {
	name   string
	help   string
	labels []string
	values sync.Map // map[string]*uint64
}

// Histogram tracks distributions of values
type Histogram struct {
	name    string
	help    string
	labels  []string
	buckets []float64
	values  sync.Map // map[string]*histogramValue
}

type histogramValue struct {
	mu      sync.Mutex
	sum     float64
	count   uint64
	buckets []uint64
}

// Gauge is a metric that can go up and down
type Gauge struct {
	name   string
	help   string
	labels []string
	values sync.Map // map[string]*uint64 holding float64 bits
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		connectionsTotal: &Counter{
			name: "webrs_connections_total",
			help: "Total number of accepted connections",
		},
		requestsTotal: &Counter{
			name:   "webrs_requests_total",
			help:   "Total number of parsed requests",
			labels: []string{"method"},
		},
		responsesTotal: &Counter{
			name:   "webrs_responses_total",
			help:   "Total number of responses written",
			labels: []string{"status"},
		},
		encodingsTotal: &Counter{
			name:   "webrs_encodings_total",
			help:   "Total number of compressed responses",
			labels: []string{"encoding"},
		},
		parseErrorsTotal: &Counter{
			name:   "webrs_parse_errors_total",
			help:   "Total number of rejected requests",
			labels: []string{"code"},
		},
		requestDuration: &Histogram{
			name:    "webrs_request_duration_seconds",
			help:    "Time from parse to response write in seconds",
			buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		connectionsActive: &Gauge{
			name: "webrs_connections_active",
			help: "Number of open connections",
		},
		goroutines: &Gauge{
			name: "webrs_goroutines",
			help: "Number of goroutines",
		},
	}
}

// ConnectionOpened records an accepted connection
func (m *Collector) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Add(1)
}

// ConnectionClosed records a released connection
func (m *Collector) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Add(-1)
}

// RecordRequest records a successfully parsed request
func (m *Collector) RecordRequest(method string) {
	if m == nil {
		return
	}
	m.requestsTotal.Inc(method)
}

// RecordParseError records a request rejected by the parser
func (m *Collector) RecordParseError(code string) {
	if m == nil {
		return
	}
	m.parseErrorsTotal.Inc(code)
}

// RecordResponse records a written response and how long it took
func (m *Collector) RecordResponse(status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.responsesTotal.Inc(strconv.Itoa(status))
	m.requestDuration.Observe(duration.Seconds())
}

// RecordEncoding records a compressed response body
func (m *Collector) RecordEncoding(encoding string) {
	if m == nil {
		return
	}
	m.encodingsTotal.Inc(encoding)
}

// ActiveConnections returns the number of open connections.
func (m *Collector) ActiveConnections() float64 {
	if m == nil {
		return 0
	}
	return m.connectionsActive.Value()
}

// WritePrometheus writes metrics in Prometheus text format
func (m *Collector) WritePrometheus(w io.Writer) {
	if m == nil {
		return
	}
	m.goroutines.Set(float64(runtime.NumGoroutine()))

	fmt.Fprintf(w, "# HELP webrs_info webrs build information\n")
	fmt.Fprintf(w, "# TYPE webrs_info gauge\n")
	fmt.Fprintf(w, "webrs_info{version=\"%s\"} 1\n\n", version.Version)

	fmt.Fprintf(w, "# HELP webrs_uptime_seconds Time since the collector was created\n")
	fmt.Fprintf(w, "# TYPE webrs_uptime_seconds counter\n")
	fmt.Fprintf(w, "webrs_uptime_seconds %.3f\n\n", time.Since(m.startTime).Seconds())

	writeCounter(w, m.connectionsTotal)
	writeCounter(w, m.requestsTotal)
	writeCounter(w, m.responsesTotal)
	writeCounter(w, m.encodingsTotal)
	writeCounter(w, m.parseErrorsTotal)

	writeHistogram(w, m.requestDuration)

	writeGauge(w, m.connectionsActive)
	writeGauge(w, m.goroutines)
}

func sortedKeys(values *sync.Map) []string {
	var keys []string
	values.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

func writeCounter(w io.Writer, c *Counter) {
	fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
	fmt.Fprintf(w, "# TYPE %s counter\n", c.name)

	for _, key := range sortedKeys(&c.values) {
		val, _ := c.values.Load(key)
		if ptr, ok := val.(*uint64); ok {
			fmt.Fprintf(w, "%s%s %d\n", c.name, key, atomic.LoadUint64(ptr))
		}
	}
	fmt.Fprintln(w)
}

func writeHistogram(w io.Writer, h *Histogram) {
	fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(w, "# TYPE %s histogram\n", h.name)

	for _, key := range sortedKeys(&h.values) {
		val, _ := h.values.Load(key)
		hv, ok := val.(*histogramValue)
		if !ok {
			continue
		}
		hv.mu.Lock()
		cumulative := uint64(0)
		for i, bucket := range h.buckets {
			cumulative += hv.buckets[i]
			fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLabel(key, "le", strconv.FormatFloat(bucket, 'g', -1, 64)), cumulative)
		}
		cumulative += hv.buckets[len(h.buckets)]
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLabel(key, "le", "+Inf"), cumulative)
		fmt.Fprintf(w, "%s_sum%s %.6f\n", h.name, key, hv.sum)
		fmt.Fprintf(w, "%s_count%s %d\n", h.name, key, hv.count)
		hv.mu.Unlock()
	}
	fmt.Fprintln(w)
}

func writeGauge(w io.Writer, g *Gauge) {
	fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", g.name)

	for _, key := range sortedKeys(&g.values) {
		val, _ := g.values.Load(key)
		if ptr, ok := val.(*uint64); ok {
			fmt.Fprintf(w, "%s%s %g\n", g.name, key, math.Float64frombits(atomic.LoadUint64(ptr)))
		}
	}
	fmt.Fprintln(w)
}

// withLabel appends name="value" to a rendered label set.
func withLabel(key, name, value string) string {
	pair := fmt.Sprintf("%s=\"%s\"", name, value)
	if key == "" {
		return "{" + pair + "}"
	}
	return key[:len(key)-1] + "," + pair + "}"
}

func labelsToKey(labels, values []string) string {
	if len(labels) == 0 || len(values) == 0 {
		return ""
	}

	pairs := make([]string, 0, len(labels))
	for i, label := range labels {
		if i < len(values) {
			pairs = append(pairs, fmt.Sprintf("%s=\"%s\"", label, values[i]))
		}
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

// Inc adds one to the counter
func (c *Counter) Inc(labelValues ...string) {
	c.Add(1, labelValues...)
}

// Add adds delta to the counter
func (c *Counter) Add(delta uint64, labelValues ...string) {
	key := labelsToKey(c.labels, labelValues)
	val, _ := c.values.LoadOrStore(key, new(uint64))
	atomic.AddUint64(val.(*uint64), delta)
}

// Value returns the current count for the given labels.
func (c *Counter) Value(labelValues ...string) uint64 {
	val, ok := c.values.Load(labelsToKey(c.labels, labelValues))
	if !ok {
		return 0
	}
	return atomic.LoadUint64(val.(*uint64))
}

// Observe records one value
func (h *Histogram) Observe(value float64, labelValues ...string) {
	key := labelsToKey(h.labels, labelValues)

	val, _ := h.values.LoadOrStore(key, &histogramValue{
		buckets: make([]uint64, len(h.buckets)+1), // +1 for +Inf
	})
	hv := val.(*histogramValue)

	hv.mu.Lock()
	defer hv.mu.Unlock()

	hv.sum += value
	hv.count++

	bucketIdx := len(h.buckets)
	for i, bound := range h.buckets {
		if value <= bound {
			bucketIdx = i
			break
		}
	}
	hv.buckets[bucketIdx]++
}

// Set stores value
func (g *Gauge) Set(value float64, labelValues ...string) {
	key := labelsToKey(g.labels, labelValues)
	val, _ := g.values.LoadOrStore(key, new(uint64))
	atomic.StoreUint64(val.(*uint64), math.Float64bits(value))
}

// Add adds delta, which may be negative
func (g *Gauge) Add(delta float64, labelValues ...string) {
	key := labelsToKey(g.labels, labelValues)
	val, _ := g.values.LoadOrStore(key, new(uint64))
	ptr := val.(*uint64)
	for {
		old := atomic.LoadUint64(ptr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(ptr, old, next) {
			return
		}
	}
}

// Value returns the current value for the given labels.
func (g *Gauge) Value(labelValues ...string) float64 {
	val, ok := g.values.Load(labelsToKey(g.labels, labelValues))
	if !ok {
		return 0
	}
	return math.Float64frombits(atomic.LoadUint64(val.(*uint64)))
}
