// Package streak derives consecutive-activity runs from a user's distinct
// check-in dates and guards streak bonuses against double awards within a
// calendar day. All date math is UTC at day granularity; there is no per-user
// time zone awareness.
package streak

import (
	"context"
	"time"

	"github.com/google/uuid"
	"points-ledger-api/internal/database"
	"points-ledger-api/internal/models"
)

const dateLayout = "2006-01-02"

// Calculator reads activity dates and bonus records from the store.
type Calculator struct {
	db *database.DB
}

// NewCalculator creates a streak calculator.
func NewCalculator(db *database.DB) *Calculator {
	return &Calculator{db: db}
}

// RecordCheckIn marks now's calendar date as active for the user. Repeated
// check-ins on the same date collapse; the return value reports whether this
// was the first check-in of the day.
func (c *Calculator) RecordCheckIn(ctx context.Context, userID, activityType string, now time.Time) (bool, error) {
	day := dayOf(now)
	return c.db.RecordCheckIn(userID, day.Format(dateLayout), activityType, now.UTC())
}

// CalculateStreakDays returns the user's current streak length as of now.
// The walk starts at today when today is active, otherwise at yesterday, and
// proceeds backward one day at a time until the first gap. A user with no
// activity today or yesterday has a streak of 0.
func (c *Calculator) CalculateStreakDays(ctx context.Context, userID string, now time.Time) (int, error) {
	dates, err := c.db.DistinctCheckInDates(userID)
	if err != nil {
		return 0, err
	}
	return currentStreak(dates, now), nil
}

// GetStreakInfo returns the current streak, the longest streak on record, and
// the most recent check-in date.
func (c *Calculator) GetStreakInfo(ctx context.Context, userID string, now time.Time) (models.StreakInfo, error) {
	dates, err := c.db.DistinctCheckInDates(userID)
	if err != nil {
		return models.StreakInfo{}, err
	}

	info := models.StreakInfo{
		UserID:        userID,
		CurrentStreak: currentStreak(dates, now),
	}

	longest := longestRun(dates)
	if info.CurrentStreak > longest {
		longest = info.CurrentStreak
	}
	info.LongestStreak = longest

	if len(dates) > 0 {
		last := dates[0]
		info.LastCheckInDate = &last
	}

	return info, nil
}

// HasTodayBonusTriggered reports whether a bonus for this exact streak tier
// was already awarded to the user within today's calendar day. Callers must
// consult this guard before recording a bonus.
func (c *Calculator) HasTodayBonusTriggered(ctx context.Context, userID string, streakDays int, now time.Time) (bool, error) {
	from := dayOf(now)
	to := from.AddDate(0, 0, 1)
	return c.db.HasStreakBonusBetween(userID, streakDays, from, to)
}

// RecordStreakBonus persists the idempotency guard record. Callers invoke it
// immediately after the corresponding ledger bonus write succeeds.
func (c *Calculator) RecordStreakBonus(ctx context.Context, userID string, streakDays, points int, now time.Time) (models.StreakBonusRecord, error) {
	record := models.StreakBonusRecord{
		ID:            uuid.New().String(),
		UserID:        userID,
		StreakDays:    streakDays,
		PointsAwarded: points,
		AwardedAt:     now.UTC(),
	}

	if err := c.db.InsertStreakBonus(record); err != nil {
		return models.StreakBonusRecord{}, err
	}

	return record, nil
}

// currentStreak counts consecutive active days ending at today or yesterday.
func currentStreak(dates []time.Time, now time.Time) int {
	if len(dates) == 0 {
		return 0
	}

	active := make(map[string]bool, len(dates))
	for _, d := range dates {
		active[d.Format(dateLayout)] = true
	}

	day := dayOf(now)
	if !active[day.Format(dateLayout)] {
		day = day.AddDate(0, 0, -1)
	}

	streak := 0
	for active[day.Format(dateLayout)] {
		streak++
		day = day.AddDate(0, 0, -1)
	}

	return streak
}

// longestRun measures the longest run of day-adjacent dates in a descending
// sorted sequence of distinct dates.
func longestRun(dates []time.Time) int {
	if len(dates) == 0 {
		return 0
	}

	longest := 1
	run := 1
	for i := 1; i < len(dates); i++ {
		// dates are distinct and sorted descending
		if dates[i-1].Sub(dates[i]) == 24*time.Hour {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 1
		}
	}

	return longest
}

// dayOf truncates a timestamp to its UTC calendar day.
func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
