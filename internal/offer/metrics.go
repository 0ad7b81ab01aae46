package offer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	opRefresh = "refresh"
	opDecrypt = "decrypt"
	opSubmit  = "submit"
)

// Metrics counts pipeline outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	operationsTotal *prometheus.CounterVec
	staleTotal      *prometheus.CounterVec
	inFlight        *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shieldtrade_operations_total",
		Help: "Offer session operations by outcome",
	}, []string{"operation", "result"})

	stale := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shieldtrade_stale_results_total",
		Help: "Results discarded because the network, contract or account changed",
	}, []string{"operation"})

	inFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shieldtrade_operations_in_flight",
		Help: "Operations currently running, by kind",
	}, []string{"operation"})

	if reg != nil {
		reg.MustRegister(ops, stale, inFlight)
	}

	return &Metrics{
		operationsTotal: ops,
		staleTotal:      stale,
		inFlight:        inFlight,
	}
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	if isStaleErr(err) {
		m.staleTotal.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) setInFlight(op string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.inFlight.WithLabelValues(op).Set(v)
}
