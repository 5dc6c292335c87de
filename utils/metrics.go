// utils/metrics.go
package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operational counters, exposed on /metrics.
var (
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spot_verifications_total",
		Help: "Spot verification outcomes by status.",
	}, []string{"status"})

	XPAwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xp_awards_total",
		Help: "XP ledger entries appended, by type.",
	}, []string{"type"})

	RedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_redemptions_total",
		Help: "Reward redemption attempts by result.",
	}, []string{"result"})

	ReportsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spot_reports_total",
		Help: "Spot reports submitted.",
	})
)
