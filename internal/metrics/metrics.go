// Package metrics exposes Prometheus collectors for the scheduler, the
// threshold watcher and the expiry sweeper. A nil *Metrics is valid and
// records nothing, which keeps tests and optional wiring simple.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "guildkeeper"

type Metrics struct {
	actionsScheduled *prometheus.CounterVec
	actionsExecuted  *prometheus.CounterVec
	actionsCancelled *prometheus.CounterVec
	effectFailures   *prometheus.CounterVec
	actionsPending   prometheus.Gauge
	thresholdFired   *prometheus.CounterVec
	sweeps           *prometheus.CounterVec
	grantsExpired    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		actionsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "actions_scheduled_total",
			Help:      "Deferred actions accepted by the scheduler.",
		}, []string{"kind"}),
		actionsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "actions_executed_total",
			Help:      "Deferred actions claimed and executed, by trigger.",
		}, []string{"kind", "trigger"}),
		actionsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "actions_cancelled_total",
			Help:      "Deferred actions removed before firing.",
		}, []string{"kind"}),
		effectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "effect_failures_total",
			Help:      "Effects that failed and were consumed without retry.",
		}, []string{"kind", "class"}),
		actionsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "actions_pending",
			Help:      "Deferred actions currently persisted.",
		}),
		thresholdFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "threshold",
			Name:      "fired_total",
			Help:      "Threshold crossings that fired a consequence.",
		}, []string{"result"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "expiry",
			Name:      "sweeps_total",
			Help:      "Expiry sweeps by outcome.",
		}, []string{"result"}),
		grantsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "expiry",
			Name:      "grants_expired_total",
			Help:      "Grants removed by the sweeper.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.actionsScheduled,
			m.actionsExecuted,
			m.actionsCancelled,
			m.effectFailures,
			m.actionsPending,
			m.thresholdFired,
			m.sweeps,
			m.grantsExpired,
		)
	}
	return m
}

func (m *Metrics) ActionScheduled(kind string) {
	if m == nil {
		return
	}
	m.actionsScheduled.WithLabelValues(kind).Inc()
}

func (m *Metrics) ActionExecuted(kind, trigger string) {
	if m == nil {
		return
	}
	m.actionsExecuted.WithLabelValues(kind, trigger).Inc()
}

func (m *Metrics) ActionCancelled(kind string) {
	if m == nil {
		return
	}
	m.actionsCancelled.WithLabelValues(kind).Inc()
}

func (m *Metrics) EffectFailed(kind, class string) {
	if m == nil {
		return
	}
	m.effectFailures.WithLabelValues(kind, class).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.actionsPending.Set(float64(n))
}

func (m *Metrics) ThresholdFired(result string) {
	if m == nil {
		return
	}
	m.thresholdFired.WithLabelValues(result).Inc()
}

func (m *Metrics) Sweep(result string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
}

func (m *Metrics) GrantsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.grantsExpired.Add(float64(n))
}
