package server

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the registry served at /api/v1/metrics. Session metrics are
// registered on the same registry by passing Registry() to offer.NewMetrics.
type Metrics struct {
	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
}

// NewMetrics registers the HTTP counters on reg, or on a fresh registry when
// reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shieldtrade_http_requests_total",
		Help: "HTTP requests by method, route and status code",
	}, []string{"method", "route", "code"})

	reg.MustRegister(requests)

	return &Metrics{
		registry:      reg,
		requestsTotal: requests,
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeRequest(method, route string, status int) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
