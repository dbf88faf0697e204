package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pillpal"

// Metrics holds the Prometheus collectors exported on /metrics. Each
// instance owns its registry so tests never collide on the global one.
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	computationsTotal   *prometheus.CounterVec
	computationDuration *prometheus.HistogramVec

	medlogsTotal         *prometheus.CounterVec
	devicesMarkedOffline prometheus.Counter
	heartbeatsTotal      prometheus.Counter
	notificationsTotal   *prometheus.CounterVec
	activeSockets        prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		computationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adherence_computations_total",
			Help:      "Adherence computations by kind and outcome",
		}, []string{"kind", "outcome"}),

		computationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adherence_computation_duration_seconds",
			Help:      "Duration of adherence computations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		medlogsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "medlogs_recorded_total",
			Help:      "Dose events recorded by status",
		}, []string{"status"}),

		devicesMarkedOffline: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devices_marked_offline_total",
			Help:      "Devices flipped to offline by the liveness sweep",
		}),

		heartbeatsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_heartbeats_total",
			Help:      "Heartbeats received from dispensers",
		}),

		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_delivered_total",
			Help:      "Notification deliveries by channel and outcome",
		}, []string{"channel", "outcome"}),

		activeSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket event feeds",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.computationsTotal,
		m.computationDuration,
		m.medlogsTotal,
		m.devicesMarkedOffline,
		m.heartbeatsTotal,
		m.notificationsTotal,
		m.activeSockets,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordComputation tracks one adherence computation. kind is one of
// streak, next_dose, weekly or summary.
func (m *Metrics) RecordComputation(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.computationsTotal.WithLabelValues(kind, outcome(err)).Inc()
	m.computationDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) RecordMedlog(status string) {
	if m == nil {
		return
	}
	m.medlogsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordDevicesOffline(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.devicesMarkedOffline.Add(float64(n))
}

func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeatsTotal.Inc()
}

func (m *Metrics) RecordNotification(channel string, err error) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(channel, outcome(err)).Inc()
}

func (m *Metrics) IncrementActiveSockets() {
	if m == nil {
		return
	}
	m.activeSockets.Inc()
}

func (m *Metrics) DecrementActiveSockets() {
	if m == nil {
		return
	}
	m.activeSockets.Dec()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
