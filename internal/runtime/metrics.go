package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pmghq/mbus/internal/runtime/errors"
	"github.com/pmghq/mbus/transport"
)

// BusMetrics tracks dispatch statistics.
type BusMetrics struct {
	deliveriesTotal *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	registerer prometheus.Registerer
	mu         sync.Mutex
	registered bool
}

// newDispatchCounterVec creates a new counter vec with the standard mbus/dispatch namespace.
func newDispatchCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mbus",
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// newDispatchHistogramVec creates a new histogram vec with the standard mbus/dispatch namespace.
func newDispatchHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mbus",
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewBusMetrics creates a new dispatch metrics collector.
func NewBusMetrics(registerer prometheus.Registerer) *BusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &BusMetrics{
		registerer: registerer,
		deliveriesTotal: newDispatchCounterVec("deliveries_total",
			"Total number of deliveries dispatched to listener handlers",
			[]string{"routing_key", "method", "outcome"}),
		durationSeconds: newDispatchHistogramVec("duration_seconds",
			"Time spent inside listener handlers",
			prometheus.DefBuckets,
			[]string{"routing_key", "method"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mbus",
			Subsystem: "dispatch",
			Name:      "in_flight",
			Help:      "Number of deliveries currently being handled",
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *BusMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.deliveriesTotal,
		m.durationSeconds,
		m.inFlight,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			// Check if it's already registered (not an error)
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// Middleware returns the measuring middleware: an outcome counter and
// duration histogram per binding plus an in-flight gauge.
func (m *BusMetrics) Middleware() Middleware {
	return func(next transport.Handler) transport.Handler {
		return func(ctx context.Context, d transport.Delivery) (any, error) {
			info := DispatchInfoFromContext(ctx)
			m.inFlight.Inc()
			start := time.Now()

			out, err := next(ctx, d)

			m.inFlight.Dec()
			m.durationSeconds.WithLabelValues(info.RoutingKey, info.Method).Observe(time.Since(start).Seconds())
			m.deliveriesTotal.WithLabelValues(info.RoutingKey, info.Method, outcomeLabel(err)).Inc()
			return out, err
		}
	}
}

// outcomeLabel names a dispatch outcome for the deliveries counter:
// the error kind when typed, "error" for anything else.
func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	if k := errors.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
