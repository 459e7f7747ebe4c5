package petcd

import (
	"github.com/prometheus/client_golang/prometheus"
)

// attempt outcomes
const (
	outcomeOK        = "ok"
	outcomeTransient = "transient"
	outcomeRedirect  = "redirect"
)

// Metrics holds prometheus collectors for the request executor. A nil *Metrics is valid and records nothing.
type Metrics struct {
	attempts  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	redirects prometheus.Counter
	failures  *prometheus.CounterVec
}

// NewMetrics creates collectors and registers them with reg. Pass nil to skip registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "petcd",
			Name:      "attempts_total",
			Help:      "Physical requests sent to cluster members, by method and outcome.",
		}, []string{"method", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "petcd",
			Name:      "retries_total",
			Help:      "Requests re-issued after a transient failure, by method.",
		}, []string{"method"}),
		redirects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "petcd",
			Name:      "redirects_total",
			Help:      "Redirects followed to another cluster member.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "petcd",
			Name:      "cluster_unavailable_total",
			Help:      "Operations failed with cluster unavailable, by method.",
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.retries, m.redirects, m.failures)
	}
	return m
}

func (m *Metrics) attempt(method, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) retry(method string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(method).Inc()
}

func (m *Metrics) redirect() {
	if m == nil {
		return
	}
	m.redirects.Inc()
}

func (m *Metrics) unavailable(method string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(method).Inc()
}
