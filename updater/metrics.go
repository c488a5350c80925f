package updater

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "secalot_update"

// Update results recorded by secalot_update_updates_total.
const (
	resultSuccess  = "success"
	resultRejected = "rejected"
	resultFailed   = "failed"
)

type metrics struct {
	framesSent    *prometheus.CounterVec
	frameFailures *prometheus.CounterVec
	modeSwitches  *prometheus.CounterVec
	updates       *prometheus.CounterVec
	replugWait    prometheus.Histogram
}

// newMetrics registers the updater collectors with reg. Collectors already
// registered by another Updater on the same registry are shared.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}

	m := &metrics{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_sent_total",
			Help:      "Command frames acknowledged by the device.",
		}, []string{"region"}),
		frameFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frame_failures_total",
			Help:      "Command frames rejected by the device or lost in transport.",
		}, []string{"region"}),
		modeSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mode_switches_total",
			Help:      "Completed mode switches by target mode.",
		}, []string{"target"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "updates_total",
			Help:      "Update attempts by result.",
		}, []string{"result"}),
		replugWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "replug_wait_seconds",
			Help:      "Time between a switch command and the device reappearing.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
	}

	m.framesSent = register(reg, m.framesSent)
	m.frameFailures = register(reg, m.frameFailures)
	m.modeSwitches = register(reg, m.modeSwitches)
	m.updates = register(reg, m.updates)
	m.replugWait = register(reg, m.replugWait)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *metrics) frameSent(region string) {
	if m != nil {
		m.framesSent.WithLabelValues(region).Inc()
	}
}

func (m *metrics) frameFailed(region string) {
	if m != nil {
		m.frameFailures.WithLabelValues(region).Inc()
	}
}

func (m *metrics) switched(target Mode, waitSeconds float64) {
	if m != nil {
		m.modeSwitches.WithLabelValues(target.String()).Inc()
		m.replugWait.Observe(waitSeconds)
	}
}

func (m *metrics) updateDone(result string) {
	if m != nil {
		m.updates.WithLabelValues(result).Inc()
	}
}
