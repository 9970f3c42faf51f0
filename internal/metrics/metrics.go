// Package metrics attributes request latency, request body size and
// response status to routes.
//
// A Registry is constructed once at startup and injected wherever routes
// are registered; nothing in this package is a package-level global. Each
// metered route pre-allocates one memo cell per method and per
// (method, status) pair so the hot path is a slice index plus an atomic
// load once a cell has been materialized.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/svcmw/internal/version"
)

// Metric names are part of the scrape contract.
const (
	DurationName = "request_duration"
	BodySizeName = "request_body_size"
	StatsName    = "request_stats"
)

// Registry owns the prometheus registry and the request metric vectors.
// Construct it with New before registering any route.
type Registry struct {
	reg       *prometheus.Registry
	handler   http.Handler
	duration  *prometheus.HistogramVec
	bodySize  *prometheus.HistogramVec
	stats     *prometheus.CounterVec
	buildInfo *prometheus.GaugeVec
	panics    prometheus.Counter

	rateLimited       prometheus.Counter
	rateLimitCapacity prometheus.Counter

	mu     sync.Mutex
	routes map[string]*Route
}

// New returns a fresh registry with the go/process collectors and the
// request metric vectors registered exactly once.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Registry{
		reg: reg,
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    DurationName,
			Help:    "Request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		bodySize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    BodySizeName,
			Help:    "Request body size",
			Buckets: []float64{0, 256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216},
		}, []string{"path", "method"}),
		stats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: StatsName,
			Help: "Request stats",
		}, []string{"path", "method", "status_code"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Recovered handler panics",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
		rateLimitCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limit_capacity_total",
			Help: "Times the rate limiter reached its key capacity",
		}),
		routes: make(map[string]*Route),
	}
	reg.MustRegister(m.duration, m.bodySize, m.stats, m.buildInfo, m.panics, m.rateLimited, m.rateLimitCapacity)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return m.handler
}

// Gatherer exposes the underlying registry for scraping and tests.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}

// Register adds application collectors to the registry.
func (m *Registry) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := m.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncPanic counts a recovered handler panic.
func (m *Registry) IncPanic() {
	m.panics.Inc()
}

func (m *Registry) IncRateLimited() { m.rateLimited.Inc() }

func (m *Registry) IncRateLimitCapacity() { m.rateLimitCapacity.Inc() }

// set once at startup.
func (m *Registry) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

// Route returns the instrumentation for pattern, creating it on first use.
// Patterns that normalise to the same label share one Route.
func (m *Registry) Route(pattern string) *Route {
	label := RouteLabel(pattern)

	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.routes[label]; ok {
		return rt
	}
	rt := newRoute(label, m)
	m.routes[label] = rt
	return rt
}

// handle factories, one child per label set. Vec children are created by
// the vec itself; the registry registration above happens once in New.

func (m *Registry) durationObserver(path, method string) (prometheus.Observer, error) {
	return m.duration.GetMetricWithLabelValues(path, method)
}

func (m *Registry) bodySizeObserver(path, method string) (prometheus.Observer, error) {
	return m.bodySize.GetMetricWithLabelValues(path, method)
}

func (m *Registry) statusCounter(path, method string, status int) (prometheus.Counter, error) {
	return m.stats.GetMetricWithLabelValues(path, method, strconv.Itoa(status))
}
