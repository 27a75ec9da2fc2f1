package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shortlink"

// Redirect outcomes
const (
	RedirectOK       = "ok"
	RedirectNotFound = "not_found"
	RedirectExpired  = "expired"
	RedirectError    = "error"
)

// Metrics owns a private registry and the collectors the server reports
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	created         *prometheus.CounterVec
	redirects       *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.requests = m.RegisterCounter("http_requests_total", "HTTP requests by route and status code", []string{"method", "route", "code"})
	m.requestDuration = m.RegisterHistogram("http_request_duration_seconds", "HTTP request latency", []string{"method", "route"}, prometheus.DefBuckets)
	m.created = m.RegisterCounter("urls_created_total", "Short URLs created", []string{"custom"})
	m.redirects = m.RegisterCounter("redirects_total", "Redirect resolutions by outcome", []string{"result"})

	return m
}

// RegisterCounter registers a counter vector under the shortlink namespace
func (m *Metrics) RegisterCounter(name, help string, labels []string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)

	m.registry.MustRegister(counter)
	return counter
}

// RegisterHistogram registers a histogram vector under the shortlink namespace
func (m *Metrics) RegisterHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)

	m.registry.MustRegister(histogram)
	return histogram
}

// ObserveRequest records one finished HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// URLCreated counts a new mapping
func (m *Metrics) URLCreated(custom bool) {
	m.created.WithLabelValues(strconv.FormatBool(custom)).Inc()
}

// Redirect counts a resolution outcome
func (m *Metrics) Redirect(result string) {
	m.redirects.WithLabelValues(result).Inc()
}

// Registry exposes the registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
