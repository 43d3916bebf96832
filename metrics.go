package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsObserver counts cache events by kind.
type MetricsObserver[K comparable, V any] struct {
	events *prometheus.CounterVec
}

// NewMetricsObserver registers a cache_events_total counter with reg. A nil
// reg registers with the default Prometheus registerer.
func NewMetricsObserver[K comparable, V any](namespace string, reg prometheus.Registerer) (*MetricsObserver[K, V], error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_events_total",
		Help:      "Number of cache mutation events by type",
	}, []string{"type"})
	if err := reg.Register(events); err != nil {
		return nil, err
	}
	// pre-create every series so dashboards see zeros
	for _, t := range []EventType{EventInsert, EventRemove, EventClear} {
		events.WithLabelValues(t.String())
	}
	return &MetricsObserver[K, V]{events: events}, nil
}

func (m *MetricsObserver[K, V]) OnInsert(EventPayload[K, V]) {
	m.events.WithLabelValues(EventInsert.String()).Inc()
}

func (m *MetricsObserver[K, V]) OnRemove(EventPayload[K, V]) {
	m.events.WithLabelValues(EventRemove.String()).Inc()
}

func (m *MetricsObserver[K, V]) OnClear() {
	m.events.WithLabelValues(EventClear.String()).Inc()
}
