// Package metrics is a small Prometheus-compatible collector. It renders the
// text exposition format directly instead of pulling in client_golang.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector the predefined metrics live in.
var Collector = NewRegistry("matrixbot")

// Registry aggregates counters, gauges and histograms under a namespace.
type Registry struct {
	namespace string
	startTime time.Time

	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace:  namespace,
		startTime:  time.Now(),
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// Uptime returns how long the collector has been running.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

type desc struct {
	name   string
	help   string
	labels string // rendered label pairs, e.g. `command="echo"`
}

func (d desc) series() string {
	if d.labels == "" {
		return d.name
	}
	return d.name + "{" + d.labels + "}"
}

// Counter is a monotonically increasing counter.
type Counter struct {
	desc
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	desc
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values in cumulative buckets.
type Histogram struct {
	desc
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// Count returns how many values were observed.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns the counter for name and labels, creating it on first use.
// name is prefixed with the collector namespace.
func (r *Registry) Counter(name, help, labels string) *Counter {
	d := r.desc(name, help, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[d.series()]; ok {
		return c
	}
	c := &Counter{desc: d}
	r.counters[d.series()] = c
	return c
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	d := r.desc(name, help, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[d.series()]; ok {
		return g
	}
	g := &Gauge{desc: d}
	r.gauges[d.series()] = g
	return g
}

// Histogram returns the histogram for name and labels. An implicit +Inf
// bucket is always rendered.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	d := r.desc(name, help, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[d.series()]; ok {
		return h
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	h := &Histogram{desc: d, bounds: sorted, buckets: make([]int64, len(sorted))}
	r.histograms[d.series()] = h
	return h
}

func (r *Registry) desc(name, help, labels string) desc {
	if r.namespace != "" {
		name = r.namespace + "_" + name
	}
	return desc{name: name, help: help, labels: labels}
}

// WriteTo renders every metric in the Prometheus text format, sorted by
// series so the output is stable.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	uptime := r.desc("uptime_seconds", "Time since start in seconds", "")
	writeHeader(&sb, uptime.name, uptime.help, "gauge")
	fmt.Fprintf(&sb, "%s %d\n", uptime.name, int64(r.Uptime().Seconds()))

	r.mu.Lock()
	counters := sortedValues(r.counters)
	gauges := sortedValues(r.gauges)
	histograms := sortedValues(r.histograms)
	r.mu.Unlock()

	seen := make(map[string]bool)
	for _, c := range counters {
		if !seen[c.name] {
			writeHeader(&sb, c.name, c.help, "counter")
			seen[c.name] = true
		}
		fmt.Fprintf(&sb, "%s %d\n", c.series(), c.Value())
	}
	for _, g := range gauges {
		if !seen[g.name] {
			writeHeader(&sb, g.name, g.help, "gauge")
			seen[g.name] = true
		}
		fmt.Fprintf(&sb, "%s %d\n", g.series(), g.Value())
	}
	for _, h := range histograms {
		if !seen[h.name] {
			writeHeader(&sb, h.name, h.help, "histogram")
			seen[h.name] = true
		}
		h.render(&sb)
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func (h *Histogram) render(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	labelPrefix := ""
	if h.labels != "" {
		labelPrefix = h.labels + ","
	}
	for i, le := range h.bounds {
		fmt.Fprintf(sb, "%s_bucket{%sle=\"%s\"} %d\n", h.name, labelPrefix, formatBound(le), h.buckets[i])
	}
	fmt.Fprintf(sb, "%s_bucket{%sle=\"+Inf\"} %d\n", h.name, labelPrefix, h.count)

	suffix := ""
	if h.labels != "" {
		suffix = "{" + h.labels + "}"
	}
	fmt.Fprintf(sb, "%s_count%s %d\n", h.name, suffix, h.count)
	fmt.Fprintf(sb, "%s_sum%s %g\n", h.name, suffix, h.sum)
}

func formatBound(le float64) string {
	if math.IsInf(le, 1) {
		return "+Inf"
	}
	return fmt.Sprintf("%g", le)
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

func sortedValues[V any](m map[string]V) []V {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]V, len(keys))
	for i, k := range keys {
		values[i] = m[k]
	}
	return values
}

// Handler serves the collector in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	}
}

// Predefined metrics for the sync loop and event handling.
var (
	SyncRequests       = Collector.Counter("sync_requests_total", "Total /sync requests issued", "")
	SyncFailures       = Collector.Counter("sync_failures_total", "Total failed /sync requests", "")
	CursorSaves        = Collector.Counter("cursor_saves_total", "Total successful cursor saves", "")
	CursorSaveFailures = Collector.Counter("cursor_save_failures_total", "Total failed cursor saves", "")
	EventsRouted       = Collector.Counter("events_routed_total", "Total events passed to the router", "")
	HandlerPanics      = Collector.Counter("handler_panics_total", "Total recovered event handler panics", "")
	ActionFailures     = Collector.Counter("action_failures_total", "Total outbound actions rejected or failed", "")
	InviteJoinFailures = Collector.Counter("invite_join_failures_total", "Total invites dropped after exhausting join attempts", "")
	BackoffSeconds     = Collector.Gauge("sync_backoff_seconds", "Current sync retry delay in seconds, 0 when healthy", "")

	BatchSize = Collector.Histogram("sync_batch_events", "Events per successful sync batch", "",
		[]float64{0, 1, 5, 10, 50, 100, 500})
	SyncLatency = Collector.Histogram("sync_latency_seconds", "Sync request latency in seconds", "",
		[]float64{0.1, 0.5, 1, 5, 10, 30, 60})
)

// CommandsTotal returns the per-command dispatch counter.
func CommandsTotal(command string) *Counter {
	return Collector.Counter("commands_total", "Total commands dispatched", fmt.Sprintf("command=%q", command))
}
