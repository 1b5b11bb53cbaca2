package models

import "time"

// TransactionKind classifies a point movement.
type TransactionKind string

const (
	KindEarn   TransactionKind = "EARN"
	KindRedeem TransactionKind = "REDEEM"
	KindBonus  TransactionKind = "BONUS"
)

// Valid reports whether the kind is one of the known transaction kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindEarn, KindRedeem, KindBonus:
		return true
	}
	return false
}

// Transaction is a single signed point movement. Transactions are append-only:
// once written they are never mutated or deleted. EARN and BONUS carry positive
// points; REDEEM is stored as the negated requested amount.
type Transaction struct {
	ID          string          `json:"id"` // uuid
	UserID      string          `json:"user_id"`
	Kind        TransactionKind `json:"kind"`
	Points      int             `json:"points"` // signed
	Source      string          `json:"source,omitempty"`
	SourceID    string          `json:"source_id,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"` // RFC3339 timestamp
}

// Balance is derived from a user's full transaction set on every read; there
// is no stored counter that could drift from the ledger.
type Balance struct {
	UserID        string `json:"user_id"`
	Balance       int    `json:"balance"`
	TotalEarned   int    `json:"total_earned"`
	TotalRedeemed int    `json:"total_redeemed"`
}

// User is an entry in the user directory consulted before any ledger write.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// StreakBonusRecord is the immutable audit/idempotency record written when a
// streak bonus fires. At most one exists per (user, streak tier, calendar day).
type StreakBonusRecord struct {
	ID            string    `json:"id"` // uuid
	UserID        string    `json:"user_id"`
	StreakDays    int       `json:"streak_days"`
	PointsAwarded int       `json:"points_awarded"`
	AwardedAt     time.Time `json:"awarded_at"`
}

// StreakInfo summarizes a user's consecutive-activity state.
type StreakInfo struct {
	UserID          string     `json:"user_id"`
	CurrentStreak   int        `json:"current_streak"`
	LongestStreak   int        `json:"longest_streak"`
	LastCheckInDate *time.Time `json:"last_check_in_date,omitempty"`
}

// LeaderboardEntry is one ranked row of a leaderboard window.
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Points int    `json:"points"`
}

// LeaderboardResponse is the response payload for leaderboard queries.
type LeaderboardResponse struct {
	Window      string             `json:"window"`
	TopEntries  []LeaderboardEntry `json:"top_entries"`
	CurrentUser *LeaderboardEntry  `json:"current_user,omitempty"`
	TotalUsers  int                `json:"total_users"`
}

// PointsRequest is the request body for earn/redeem/bonus operations.
type PointsRequest struct {
	UserID      string `json:"user_id"`
	Points      int    `json:"points"`
	Source      string `json:"source,omitempty"`
	SourceID    string `json:"source_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// CheckInRequest is the request body for the daily check-in flow.
type CheckInRequest struct {
	ActivityType string `json:"activity_type"`
}

// CheckInResult is the outcome of a check-in: points awarded for the activity,
// the streak length after the check-in, and any streak bonus that fired.
type CheckInResult struct {
	UserID           string `json:"user_id"`
	ActivityType     string `json:"activity_type"`
	AlreadyCheckedIn bool   `json:"already_checked_in"`
	PointsAwarded    int    `json:"points_awarded"`
	StreakDays       int    `json:"streak_days"`
	BonusAwarded     int    `json:"bonus_awarded"`
}

// HistoryFilter narrows a transaction history query. Nil fields are ignored;
// supplied filters are conjoined. Date bounds are inclusive.
type HistoryFilter struct {
	Kind      *TransactionKind
	StartDate *time.Time
	EndDate   *time.Time
}

// HistoryResponse is a paginated slice of a user's transaction history,
// ordered newest-first.
type HistoryResponse struct {
	Items []Transaction `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// InsufficientBalanceResponse is returned when a redeem exceeds the balance.
type InsufficientBalanceResponse struct {
	Error     string `json:"error"`
	Current   int    `json:"current"`
	Requested int    `json:"requested"`
}
