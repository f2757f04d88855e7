package module

import (
	"net/http"
	"strconv"
	"time"

	"github.com/CrisisTextLine/modular"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollectorConfig holds configuration for the MetricsCollector module.
type MetricsCollectorConfig struct {
	Namespace      string   `yaml:"namespace" json:"namespace"`
	Subsystem      string   `yaml:"subsystem" json:"subsystem"`
	MetricsPath    string   `yaml:"metricsPath" json:"metricsPath"`
	EnabledMetrics []string `yaml:"enabledMetrics" json:"enabledMetrics"`
}

// DefaultMetricsCollectorConfig returns the default configuration.
func DefaultMetricsCollectorConfig() MetricsCollectorConfig {
	return MetricsCollectorConfig{
		Namespace:      "hookrelay",
		Subsystem:      "",
		MetricsPath:    "/metrics",
		EnabledMetrics: []string{"http", "delivery", "history"},
	}
}

func metricsEnabled(enabledList []string, name string) bool {
	for _, e := range enabledList {
		if e == name {
			return true
		}
	}
	return false
}

// MetricsCollector wraps Prometheus metrics for the forwarding gateway.
// It registers as service "metrics.collector" and provides pre-defined metric vectors.
type MetricsCollector struct {
	name     string
	config   MetricsCollectorConfig
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	MessagesReceived    *prometheus.CounterVec
	DeliveriesTotal     *prometheus.CounterVec
	DeliveryDuration    *prometheus.HistogramVec
	HistorySize         prometheus.Gauge
}

// NewMetricsCollector creates a new MetricsCollector with its own Prometheus registry.
func NewMetricsCollector(name string) *MetricsCollector {
	return NewMetricsCollectorWithConfig(name, DefaultMetricsCollectorConfig())
}

// NewMetricsCollectorWithConfig creates a new MetricsCollector with the given config.
func NewMetricsCollectorWithConfig(name string, cfg MetricsCollectorConfig) *MetricsCollector {
	reg := prometheus.NewRegistry()
	enabled := cfg.EnabledMetrics
	ns := cfg.Namespace
	sub := cfg.Subsystem

	mc := &MetricsCollector{
		name:     name,
		config:   cfg,
		registry: reg,
	}

	if metricsEnabled(enabled, "http") {
		mc.HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"})

		mc.HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"})

		reg.MustRegister(mc.HTTPRequestsTotal)
		reg.MustRegister(mc.HTTPRequestDuration)
	}

	if metricsEnabled(enabled, "delivery") {
		mc.MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "messages_received_total",
			Help:      "Total number of messages accepted on forwarding routes",
		}, []string{"path"})

		mc.DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "deliveries_total",
			Help:      "Total number of delivery attempts to forwarding targets",
		}, []string{"target", "status"})

		mc.DeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of deliveries to forwarding targets in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"})

		reg.MustRegister(mc.MessagesReceived)
		reg.MustRegister(mc.DeliveriesTotal)
		reg.MustRegister(mc.DeliveryDuration)
	}

	if metricsEnabled(enabled, "history") {
		mc.HistorySize = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "history_size",
			Help:      "Number of messages currently retained in history",
		})

		reg.MustRegister(mc.HistorySize)
	}

	return mc
}

// MetricsPath returns the configured metrics endpoint path.
func (m *MetricsCollector) MetricsPath() string { return m.config.MetricsPath }

// Name returns the module name.
func (m *MetricsCollector) Name() string {
	return m.name
}

// Init registers the metrics collector as a service.
func (m *MetricsCollector) Init(app modular.Application) error {
	return app.RegisterService("metrics.collector", m)
}

// Handler returns an HTTP handler that serves Prometheus metrics.
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request metric.
func (m *MetricsCollector) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal != nil {
		m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	}
	if m.HTTPRequestDuration != nil {
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	}
}

// RecordMessageReceived increments the received counter for a forwarding route.
func (m *MetricsCollector) RecordMessageReceived(path string) {
	if m.MessagesReceived != nil {
		m.MessagesReceived.WithLabelValues(path).Inc()
	}
}

// RecordDelivery records the outcome and duration of one delivery attempt.
func (m *MetricsCollector) RecordDelivery(target, status string, duration time.Duration) {
	if m.DeliveriesTotal != nil {
		m.DeliveriesTotal.WithLabelValues(target, status).Inc()
	}
	if m.DeliveryDuration != nil {
		m.DeliveryDuration.WithLabelValues(target).Observe(duration.Seconds())
	}
}

// SetHistorySize sets the gauge tracking retained history entries.
func (m *MetricsCollector) SetHistorySize(count int) {
	if m.HistorySize != nil {
		m.HistorySize.Set(float64(count))
	}
}

// ProvidesServices returns the services provided by this module.
func (m *MetricsCollector) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        "metrics.collector",
			Description: "Prometheus metrics collector for the forwarding gateway",
			Instance:    m,
		},
	}
}

// RequiresServices returns services required by this module.
func (m *MetricsCollector) RequiresServices() []modular.ServiceDependency {
	return nil
}

// MetricsMiddleware records request counts and latencies for every route.
type MetricsMiddleware struct {
	name      string
	collector *MetricsCollector
}

// NewMetricsMiddleware creates middleware that feeds the given collector.
func NewMetricsMiddleware(name string, collector *MetricsCollector) *MetricsMiddleware {
	return &MetricsMiddleware{name: name, collector: collector}
}

// Name returns the module name.
func (m *MetricsMiddleware) Name() string {
	return m.name
}

// Init initializes the middleware.
func (m *MetricsMiddleware) Init(app modular.Application) error {
	return nil
}

// Process implements middleware processing
func (m *MetricsMiddleware) Process(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.collector.RecordHTTPRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
