package streak

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"points-ledger-api/internal/database"
)

func setupTestDB(t *testing.T) (*database.DB, func()) {
	dbPath := "./test_streak_" + uuid.New().String() + ".db"
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}

	return db, cleanup
}

func checkIn(t *testing.T, c *Calculator, userID string, at time.Time) {
	t.Helper()
	if _, err := c.RecordCheckIn(context.Background(), userID, "check_in", at); err != nil {
		t.Fatalf("Failed to record check-in: %v", err)
	}
}

func TestCalculateStreakDays_ThreeConsecutiveDays(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	c := NewCalculator(db)
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	// Check-ins on D, D-1, D-2; nothing on D-3.
	checkIn(t, c, "u1", now)
	checkIn(t, c, "u1", now.AddDate(0, 0, -1))
	checkIn(t, c, "u1", now.AddDate(0, 0, -2))
	checkIn(t, c, "u1", now.AddDate(0, 0, -4))

	days, err := c.CalculateStreakDays(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("Failed to calculate streak: %v", err)
	}
	if days != 3 {
		t.Errorf("Expected streak of 3, got %d", days)
	}
}

func TestCalculateStreakDays_CountsFromYesterday(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	c := NewCalculator(db)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// No check-in today, but yesterday and the day before.
	checkIn(t, c, "u1", now.AddDate(0, 0, -1))
	checkIn(t, c, "u1", now.AddDate(0, 0, -2))

	days, err := c.CalculateStreakDays(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("Failed to calculate streak: %v", err)
	}
	if days != 2 {
		t.Errorf("Expected streak of 2 counted from yesterday, got %d", days)
	}
}

func TestCalculateStreakDays_NoRecentActivity(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	c := NewCalculator(db)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	days, err := c.CalculateStreakDays(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("Failed to calculate streak: %v", err)
	}
	if days != 0 {
		t.Errorf("Expected streak of 0 with no check-ins, got %d", days)
	}

	// A check-in two days ago does not revive the streak.
	checkIn(t, c, "u1", now.AddDate(0, 0, -2))
	days, err = c.CalculateStreakDays(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("Failed to calculate streak: %v", err)
	}
	if days != 0 {
		t.Errorf("Expected streak of 0 after a gap, got %d", days)
	}
}

func TestRecordCheckIn_CollapsesSameDay(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	c := NewCalculator(db)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	inserted, err := c.RecordCheckIn(context.Background(), "u1", "check_in", now)
	if err != nil {
		t.Fatalf("Failed to record check-in: %v", err)
	}
	if !inserted {
		t.Error("Expected first check-in of the day to insert")
	}

	inserted, err = c.RecordCheckIn(context.Background(), "u1", "post", now.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("Failed to record second check-in: %v", err)
	}
	if inserted {
		t.Error("Expected second check-in on the same date to collapse")
	}

	days, err := c.CalculateStreakDays(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("Failed to calculate streak: %v", err)
	}
	if days != 1 {
		t.Errorf("Expected streak of 1, got %d", days)
	}
}

func TestGetStreakInfo_LongestRun(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	c := NewCalculator(db)
	now := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

	// Current run: D, D-1. Older run: D-4 .. D-7 (four days).
	checkIn(t, c, "u1", now)
	checkIn(t, c, "u1", now.AddDate(0, 0, -1))
	for i := 4; i <= 7; i++ {
		checkIn(t, c, "u1", now.AddDate(0, 0, -i))
	}

	info, err := c.GetStreakInfo(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("Failed to get streak info: %v", err)
	}

	if info.CurrentStreak != 2 {
		t.Errorf("Expected current streak 2, got %d", info.CurrentStreak)
	}
	if info.LongestStreak != 4 {
		t.Errorf("Expected longest streak 4, got %d", info.LongestStreak)
	}
	if info.LastCheckInDate == nil {
		t.Fatal("Expected last check-in date to be set")
	}
	wantLast := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !info.LastCheckInDate.Equal(wantLast) {
		t.Errorf("Expected last check-in %v, got %v", wantLast, info.LastCheckInDate)
	}
}

func TestGetStreakInfo_Empty(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	c := NewCalculator(db)
	now := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

	info, err := c.GetStreakInfo(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("Failed to get streak info: %v", err)
	}

	if info.CurrentStreak != 0 || info.LongestStreak != 0 || info.LastCheckInDate != nil {
		t.Errorf("Expected empty streak info, got %+v", info)
	}
}

func TestBonusIdempotencyGuard(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	c := NewCalculator(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	if _, err := c.RecordStreakBonus(ctx, "u1", 7, 50, now); err != nil {
		t.Fatalf("Failed to record streak bonus: %v", err)
	}

	// Same tier, same calendar day: triggered.
	triggered, err := c.HasTodayBonusTriggered(ctx, "u1", 7, now.Add(5*time.Hour))
	if err != nil {
		t.Fatalf("Failed to check guard: %v", err)
	}
	if !triggered {
		t.Error("Expected guard to report the 7-day bonus as triggered today")
	}

	// Different tier: not triggered.
	triggered, err = c.HasTodayBonusTriggered(ctx, "u1", 14, now)
	if err != nil {
		t.Fatalf("Failed to check guard: %v", err)
	}
	if triggered {
		t.Error("Expected 14-day tier to be untriggered")
	}

	// Next calendar day: not triggered.
	triggered, err = c.HasTodayBonusTriggered(ctx, "u1", 7, now.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Failed to check guard: %v", err)
	}
	if triggered {
		t.Error("Expected guard to reset on the next calendar day")
	}

	// Different user: not triggered.
	triggered, err = c.HasTodayBonusTriggered(ctx, "u2", 7, now)
	if err != nil {
		t.Fatalf("Failed to check guard: %v", err)
	}
	if triggered {
		t.Error("Expected guard to be scoped per user")
	}
}
