// Package metrics exposes Prometheus metrics for entitlement decisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QuotaChecksTotal counts every quota decision by action and outcome.
	QuotaChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsift_quota_checks_total",
			Help: "Total quota checks by action (upload, query) and outcome (allowed, denied)",
		},
		[]string{"action", "outcome"},
	)

	// TierTransitionsTotal counts tier state machine transitions.
	TierTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsift_tier_transitions_total",
			Help: "Total tier transitions by source and destination tier",
		},
		[]string{"from", "to"},
	)

	// DocumentsDeletedTotal counts documents permanently removed by the
	// downgrade side effect.
	DocumentsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docsift_documents_deleted_total",
			Help: "Total documents permanently deleted on downgrade",
		},
	)

	// CurrentTier reports the active tier as a one-hot gauge.
	CurrentTier = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docsift_current_tier",
			Help: "Active entitlement tier (1 for the current tier, 0 otherwise)",
		},
		[]string{"tier"},
	)

	// LicenseActivationsTotal counts activation attempts by outcome.
	LicenseActivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsift_license_activations_total",
			Help: "License activation attempts by outcome (accepted, rejected)",
		},
		[]string{"outcome"},
	)
)

// SetCurrentTier updates the one-hot tier gauge.
func SetCurrentTier(active string, all []string) {
	for _, t := range all {
		v := 0.0
		if t == active {
			v = 1.0
		}
		CurrentTier.WithLabelValues(t).Set(v)
	}
}
