package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Kernel metrics: authorization decisions, applied transitions and audit
// write failures.
var (
	rbacDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbac_decisions_total",
			Help: "Authorization decisions by resource, action and effect.",
		},
		[]string{"resource", "action", "effect"},
	)

	authTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_transitions_total",
			Help: "Auth state machine transition attempts by action and outcome.",
		},
		[]string{"action", "applied"},
	)

	auditAppendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_append_failures_total",
			Help: "Audit sink append failures. Each one aborted a mutation.",
		},
	)
)

// Init registers kernel collectors with the default registry.
func Init() {
	prometheus.MustRegister(rbacDecisionsTotal, authTransitionsTotal, auditAppendFailuresTotal)
}

// ObserveDecision counts one authorization decision.
func ObserveDecision(resource, action, effect string) {
	rbacDecisionsTotal.WithLabelValues(resource, action, effect).Inc()
}

// ObserveTransition counts one transition attempt.
func ObserveTransition(action string, applied bool) {
	outcome := "false"
	if applied {
		outcome = "true"
	}
	authTransitionsTotal.WithLabelValues(action, outcome).Inc()
}

// ObserveAuditFailure counts one failed audit append.
func ObserveAuditFailure() {
	auditAppendFailuresTotal.Inc()
}
