package cache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the Prometheus counters shared by every cache registered on
// the same registerer. Each cache reports under its namespace label.
type metrics struct {
	hits   *prometheus.CounterVec
	misses *prometheus.CounterVec
	writes *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	hits, err := registerCounterVec(reg, "hits_total", "Total number of cache hits")
	if err != nil {
		return nil, err
	}
	misses, err := registerCounterVec(reg, "misses_total", "Total number of cache misses")
	if err != nil {
		return nil, err
	}
	writes, err := registerCounterVec(reg, "writes_total", "Total number of cache entries written")
	if err != nil {
		return nil, err
	}
	return &metrics{hits: hits, misses: misses, writes: writes}, nil
}

// registerCounterVec registers a counter, reusing an identical collector that
// another cache already registered.
func registerCounterVec(reg prometheus.Registerer, name, help string) (*prometheus.CounterVec, error) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leapmesh",
		Subsystem: "cache",
		Name:      name,
		Help:      help,
	}, []string{"namespace"})

	if err := reg.Register(c); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegErr) {
			if existing, ok := alreadyRegErr.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (m *metrics) hit(namespace string) {
	if m != nil {
		m.hits.WithLabelValues(namespace).Inc()
	}
}

func (m *metrics) miss(namespace string) {
	if m != nil {
		m.misses.WithLabelValues(namespace).Inc()
	}
}

func (m *metrics) write(namespace string) {
	if m != nil {
		m.writes.WithLabelValues(namespace).Inc()
	}
}
