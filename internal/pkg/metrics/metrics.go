package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "venuefox",
	Subsystem: "billing",
	Name:      "webhook_deliveries_total",
	Help:      "Webhook deliveries by provider and outcome",
}, []string{"provider", "outcome"})

var Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "venuefox",
	Subsystem: "billing",
	Name:      "transitions_total",
	Help:      "Reconciler invocations by event kind and outcome",
}, []string{"kind", "outcome"})

var ConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "venuefox",
	Subsystem: "billing",
	Name:      "conflict_retries_total",
	Help:      "Optimistic version conflicts retried by the reconciler",
})

var AccessDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "venuefox",
	Subsystem: "access",
	Name:      "decisions_total",
	Help:      "Access guard decisions by capability and result",
}, []string{"capability", "result"})

var OverrideWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "venuefox",
	Subsystem: "admin",
	Name:      "override_writes_total",
	Help:      "Admin override and pause/reactivate writes by action and result",
}, []string{"action", "result"})

var JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "venuefox",
	Subsystem: "jobqueue",
	Name:      "jobs_processed_total",
	Help:      "Background jobs by type and status",
}, []string{"type", "status"})
