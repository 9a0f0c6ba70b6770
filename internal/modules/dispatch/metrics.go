// README: Prometheus collectors for assignments, rejections, cascade queue and scheduler ticks.
package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	assignments  *prometheus.CounterVec
	declines     *prometheus.CounterVec
	queueDropped prometheus.Counter
	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
}

// NewMetrics registers the dispatch collectors on reg, reusing collectors
// that are already registered. A nil reg means the default registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_assignments_total",
			Help: "Assignment passes by method and outcome",
		}, []string{"method", "outcome"}),
		declines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_declines_total",
			Help: "Offers that ended without acceptance, by attempt status and resulting outcome",
		}, []string{"status", "outcome"}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_cascade_queue_dropped_total",
			Help: "Cascade jobs dropped because the queue was full",
		}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_scheduler_ticks_total",
			Help: "Scheduler ticks by result",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_scheduler_tick_seconds",
			Help:    "Duration of completed scheduler ticks",
			Buckets: prometheus.DefBuckets,
		}),
	}

	var err error
	if m.assignments, err = register(reg, m.assignments); err != nil {
		return nil, err
	}
	if m.declines, err = register(reg, m.declines); err != nil {
		return nil, err
	}
	if m.queueDropped, err = register(reg, m.queueDropped); err != nil {
		return nil, err
	}
	if m.ticks, err = register(reg, m.ticks); err != nil {
		return nil, err
	}
	if m.tickDuration, err = register(reg, m.tickDuration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// A nil *Metrics records nothing.

func (m *Metrics) assignment(method, outcome string) {
	if m != nil {
		m.assignments.WithLabelValues(method, outcome).Inc()
	}
}

func (m *Metrics) decline(status string, outcome Outcome) {
	if m != nil {
		m.declines.WithLabelValues(status, string(outcome)).Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.queueDropped.Inc()
	}
}

func (m *Metrics) tick(result string, seconds float64) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(result).Inc()
	if seconds >= 0 {
		m.tickDuration.Observe(seconds)
	}
}
