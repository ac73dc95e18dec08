// Package metrics объявляет Prometheus-метрики шлюза.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tgw"

var (
	// количество записей в реестре сессий
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of session records in the registry.",
	})

	// Transitions считает переходы конечного автомата.
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_transitions_total",
		Help:      "Session state machine transitions.",
	}, []string{"from", "to"})

	// Reconnects считает запланированные переподключения.
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_reconnects_total",
		Help:      "Reconnect attempts scheduled after a non-terminal close.",
	})

	// Notifications считает исходящие уведомления control plane.
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Outbound status notifications by status and result.",
	}, []string{"status", "result"})

	CleanupSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_cleanup_seconds",
		Help:      "Duration of terminal session teardown.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)

// Register регистрирует метрики в переданном реестре.
func Register(r prometheus.Registerer) {
	r.MustRegister(ActiveSessions, Transitions, Reconnects, Notifications, CleanupSeconds)
}
