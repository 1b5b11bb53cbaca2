// Package metrics exposes the service's Prometheus collectors. Collectors are
// registered on the default registry via promauto and served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsRecorded counts durable ledger writes by kind.
	TransactionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "points_transactions_recorded_total",
		Help: "Number of ledger transactions recorded, by kind.",
	}, []string{"kind"})

	// CheckIns counts accepted daily check-ins (one per user per day).
	CheckIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "points_check_ins_total",
		Help: "Number of daily check-ins recorded.",
	})

	// StreakBonusesAwarded counts streak bonus awards.
	StreakBonusesAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "points_streak_bonuses_awarded_total",
		Help: "Number of streak bonuses awarded.",
	})

	// LeaderboardSyncFailures counts swallowed ranked-store write failures.
	LeaderboardSyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "points_leaderboard_sync_failures_total",
		Help: "Number of best-effort leaderboard updates that failed.",
	})
)
