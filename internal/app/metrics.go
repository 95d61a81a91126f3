package app

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

// Metrics exports dispatch outcomes and live gauges to Prometheus.
type Metrics struct {
	dispatches *prometheus.CounterVec
	delivered  *prometheus.CounterVec
	failed     *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Registry and rooms feed the gauges.
func NewMetrics(reg prometheus.Registerer, registry *Registry, rooms *RoomManager) (*Metrics, error) {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "dispatches_total",
			Help:      "Dispatch calls by event name; unknown names count as other.",
		}, []string{"event"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "deliveries_total",
			Help:      "Frames enqueued to connections by event name.",
		}, []string{"event"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "delivery_failures_total",
			Help:      "Failed deliveries by reason.",
		}, []string{"reason"}),
	}
	collectors := []prometheus.Collector{
		m.dispatches,
		m.delivered,
		m.failed,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "beacon",
			Name:      "connections",
			Help:      "Live connections.",
		}, func() float64 { return float64(registry.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "beacon",
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}, func() float64 { return float64(rooms.Len()) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// otherEvent labels event names outside the domain constants, keeping series bounded.
const otherEvent = "other"

func eventLabel(name string) string {
	if domain.IsKnownEvent(name) {
		return name
	}
	return otherEvent
}

func (m *Metrics) AfterDispatch(_ context.Context, env core.Envelope, res core.DispatchResult) {
	event := eventLabel(env.Event)
	m.dispatches.WithLabelValues(event).Inc()
	m.delivered.WithLabelValues(event).Add(float64(res.Delivered))
	for _, f := range res.Failed {
		m.failed.WithLabelValues(failureReason(f.Err)).Inc()
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, core.ErrBackpressure):
		return "backpressure"
	case errors.Is(err, core.ErrConnectionClosed), errors.Is(err, core.ErrNotActive):
		return "closed"
	case errors.Is(err, domain.ErrConnectionNotFound):
		return "not_found"
	}
	return "error"
}
