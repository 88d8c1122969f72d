package devserver

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	plans    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leapmesh",
			Subsystem: "scheduler",
			Name:      "requests_total",
			Help:      "Total number of scheduler API requests",
		}, []string{"method", "route", "code"}),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leapmesh",
			Subsystem: "scheduler",
			Name:      "plans_total",
			Help:      "Total number of submitted plans by outcome",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.plans} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) request(method, route string, status int) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (m *metrics) plan(outcome string) {
	m.plans.WithLabelValues(outcome).Inc()
}
