// Package leaderboard maintains and queries time-windowed ranked projections
// of per-user cumulative points. Projections are derived from the ledger and
// never authoritative: sync failures are logged and swallowed, so readers may
// observe values that lag the ledger.
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"points-ledger-api/internal/metrics"
	"points-ledger-api/internal/models"
)

// WindowAllTime is the cumulative all-time window name.
const WindowAllTime = "all-time"

// WindowWeekly is the public name of the current-week window.
const WindowWeekly = "weekly"

// ErrUnknownWindow is returned when a query names a window that is neither
// all-time nor weekly.
var ErrUnknownWindow = fmt.Errorf("unknown leaderboard window")

// WeekKey formats the weekly window key for a timestamp, e.g.
// "weekly:2026-W36". The week number is a simplified scheme,
// ceil((dayOfYear + weekday(Jan 1) + 1) / 7) with Sunday as weekday 0. Not
// strictly ISO-8601, and known to misbehave around year boundaries (a late
// December date can land in week 53 while the following January restarts at
// week 1). Changing it would orphan existing keys.
func WeekKey(t time.Time) string {
	t = t.UTC()
	jan1 := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	week := int(math.Ceil(float64(t.YearDay()+int(jan1.Weekday())+1) / 7.0))
	return fmt.Sprintf("%s:%d-W%02d", WindowWeekly, t.Year(), week)
}

// ResolveWindow maps a public window name to the ranked-store key for now.
func ResolveWindow(window string, now time.Time) (string, error) {
	switch window {
	case WindowAllTime:
		return WindowAllTime, nil
	case WindowWeekly:
		return WeekKey(now), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownWindow, window)
}

// Board applies ledger deltas to all active windows and answers rank queries.
type Board struct {
	ranking Ranking
	logger  *slog.Logger
}

// NewBoard creates a leaderboard over the given ranked store.
func NewBoard(ranking Ranking, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{ranking: ranking, logger: logger}
}

// ApplyDelta increments the user's score in every active window by the signed
// delta of a committed ledger mutation. The weekly window is bucketed by now,
// the mutation's own timestamp, so deltas and queries driven by the same clock
// land in the same week. Failures are logged, counted and swallowed; they
// never propagate to the ledger caller.
func (b *Board) ApplyDelta(ctx context.Context, userID string, delta int, now time.Time) {
	for _, window := range []string{WindowAllTime, WeekKey(now)} {
		if err := b.ranking.IncrBy(ctx, window, userID, delta); err != nil {
			metrics.LeaderboardSyncFailures.Inc()
			b.logger.Error("leaderboard sync failed",
				"window", window,
				"user_id", userID,
				"delta", delta,
				"error", err,
			)
		}
	}
}

// TopN returns up to limit entries of a window, ranked descending by score.
func (b *Board) TopN(ctx context.Context, window string, limit int, now time.Time) ([]models.LeaderboardEntry, error) {
	key, err := ResolveWindow(window, now)
	if err != nil {
		return nil, err
	}

	raw, err := b.ranking.TopN(ctx, key, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]models.LeaderboardEntry, 0, len(raw))
	for i, e := range raw {
		entries = append(entries, models.LeaderboardEntry{
			Rank:   i + 1,
			UserID: e.UserID,
			Points: e.Score,
		})
	}

	return entries, nil
}

// UserRank returns the 1-based rank of the user in a window, or false when
// the user has no entry.
func (b *Board) UserRank(ctx context.Context, window, userID string, now time.Time) (int, bool, error) {
	key, err := ResolveWindow(window, now)
	if err != nil {
		return 0, false, err
	}
	return b.ranking.Rank(ctx, key, userID)
}

// UserScore returns the user's score in a window, 0 when absent.
func (b *Board) UserScore(ctx context.Context, window, userID string, now time.Time) (int, error) {
	key, err := ResolveWindow(window, now)
	if err != nil {
		return 0, err
	}
	return b.ranking.Score(ctx, key, userID)
}

// WindowSize returns the number of distinct users with an entry in a window.
func (b *Board) WindowSize(ctx context.Context, window string, now time.Time) (int, error) {
	key, err := ResolveWindow(window, now)
	if err != nil {
		return 0, err
	}
	return b.ranking.Size(ctx, key)
}

// Rebuild replaces a window's projection with the given per-user totals.
// Used by the admin resync path after a sustained ranked-store outage; there
// is no automatic reconciliation.
func (b *Board) Rebuild(ctx context.Context, window string, totals map[string]int, now time.Time) error {
	key, err := ResolveWindow(window, now)
	if err != nil {
		return err
	}

	if err := b.ranking.Reset(ctx, key); err != nil {
		return fmt.Errorf("failed to reset window %s: %w", key, err)
	}

	for userID, total := range totals {
		if total == 0 {
			continue
		}
		if err := b.ranking.IncrBy(ctx, key, userID, total); err != nil {
			return fmt.Errorf("failed to rebuild window %s for user %s: %w", key, userID, err)
		}
	}

	b.logger.Info("leaderboard window rebuilt", "window", key, "users", len(totals))
	return nil
}
