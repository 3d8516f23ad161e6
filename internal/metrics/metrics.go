package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use through a nil pointer; every recorder is then a no-op.
type Metrics struct {
	partialWrites       *prometheus.CounterVec
	resetTokens         *prometheus.CounterVec
	notificationFailure *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		partialWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shutterfeed",
			Name:      "backref_partial_writes_total",
			Help:      "Back-reference appends that failed after the primary document was written.",
		}, []string{"relation"}),
		resetTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shutterfeed",
			Name:      "reset_tokens_total",
			Help:      "Password reset token lifecycle events.",
		}, []string{"event"}),
		notificationFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shutterfeed",
			Name:      "notification_failures_total",
			Help:      "Outbound notifications that could not be delivered.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.partialWrites, m.resetTokens, m.notificationFailure)
	}
	return m
}

func (m *Metrics) PartialWrite(relation string) {
	if m == nil {
		return
	}
	m.partialWrites.WithLabelValues(relation).Inc()
}

func (m *Metrics) ResetToken(event string) {
	if m == nil {
		return
	}
	m.resetTokens.WithLabelValues(event).Inc()
}

func (m *Metrics) NotificationFailed(kind string) {
	if m == nil {
		return
	}
	m.notificationFailure.WithLabelValues(kind).Inc()
}
