package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Module metrics
	ModuleLoads      *prometheus.CounterVec
	LoadDuration     *prometheus.HistogramVec
	ModulesActive    prometheus.Gauge
	ModuleExits      *prometheus.CounterVec
	ObjectsReclaimed *prometheus.CounterVec

	// Kernel metrics
	HeapUsed    prometheus.Gauge
	HeapPeak    prometheus.Gauge
	ThreadsLive prometheus.Gauge

	// Remote source metrics
	FetchTotal *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON API
type Snapshot struct {
	Loads        int64 `json:"loads"`
	LoadFailures int64 `json:"load_failures"`
	Active       int64 `json:"active"`
	Exits        int64 `json:"exits"`
	Reclaimed    int64 `json:"reclaimed"`
	Requests     int64 `json:"requests"`
}

// NewMetrics creates a metrics collector on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dlkernel_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dlkernel_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ModuleLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dlkernel_module_loads_total",
				Help: "Module load attempts by image kind and result",
			},
			[]string{"kind", "result"},
		),
		LoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dlkernel_module_load_duration_seconds",
				Help:    "Time spent reading, linking and relocating a module",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"kind"},
		),
		ModulesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dlkernel_modules_active",
				Help: "Modules currently registered",
			},
		),
		ModuleExits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dlkernel_module_exits_total",
				Help: "Module teardowns by outcome",
			},
			[]string{"outcome"},
		),
		ObjectsReclaimed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dlkernel_objects_reclaimed_total",
				Help: "Kernel objects reclaimed during module teardown",
			},
			[]string{"class"},
		),

		HeapUsed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dlkernel_heap_used_bytes",
				Help: "Bytes allocated from the system heap",
			},
		),
		HeapPeak: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dlkernel_heap_peak_bytes",
				Help: "High water mark of the system heap",
			},
		),
		ThreadsLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dlkernel_threads",
				Help: "Registered kernel threads",
			},
		),

		FetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dlkernel_remote_fetch_total",
				Help: "Remote image fetches by result",
			},
			[]string{"result"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dlkernel_uptime_seconds",
				Help: "Kernel uptime in seconds",
			},
		),
	}
	return m
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.Requests++
	m.mu.Unlock()
}

// RecordLoad records one module load attempt
func (m *Metrics) RecordLoad(kind string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ModuleLoads.WithLabelValues(kind, result).Inc()
	m.LoadDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.Loads++
	if err != nil {
		m.snapshot.LoadFailures++
	}
	m.mu.Unlock()
}

// SetModulesActive sets the number of registered modules
func (m *Metrics) SetModulesActive(count int) {
	if m == nil {
		return
	}
	m.ModulesActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.Active = int64(count)
	m.mu.Unlock()
}

// RecordExit records a completed module teardown
func (m *Metrics) RecordExit(outcome string) {
	if m == nil {
		return
	}
	m.ModuleExits.WithLabelValues(outcome).Inc()
	m.mu.Lock()
	m.snapshot.Exits++
	m.mu.Unlock()
}

// RecordReclaim records one reclaimed kernel object
func (m *Metrics) RecordReclaim(class string) {
	if m == nil {
		return
	}
	m.ObjectsReclaimed.WithLabelValues(class).Inc()
	m.mu.Lock()
	m.snapshot.Reclaimed++
	m.mu.Unlock()
}

func (m *Metrics) RecordFetch(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.FetchTotal.WithLabelValues("error").Inc()
		return
	}
	m.FetchTotal.WithLabelValues("ok").Inc()
}

// ObserveKernel samples heap and thread gauges
func (m *Metrics) ObserveKernel(heapUsed, heapPeak, threads int) {
	if m == nil {
		return
	}
	m.HeapUsed.Set(float64(heapUsed))
	m.HeapPeak.Set(float64(heapPeak))
	m.ThreadsLive.Set(float64(threads))
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// Snapshot returns the current counters
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
