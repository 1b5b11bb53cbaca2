package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"points-ledger-api/internal/models"
)

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			points INTEGER NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			source_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_txn_user_id ON transactions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_txn_kind ON transactions(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_txn_user_created_at ON transactions(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS check_ins (
			user_id TEXT NOT NULL,
			activity_date TEXT NOT NULL,
			activity_type TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (user_id, activity_date)
		)`,
		`CREATE TABLE IF NOT EXISTS streak_bonuses (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			streak_days INTEGER NOT NULL,
			points_awarded INTEGER NOT NULL,
			awarded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bonus_user_days ON streak_bonuses(user_id, streak_days, awarded_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// UpsertUser creates or updates a user directory entry.
func (db *DB) UpsertUser(user models.User) error {
	query := `INSERT INTO users (id, username, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		username = excluded.username`

	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.conn.Exec(query, user.ID, user.Username, createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	return nil
}

// UserExists reports whether a user directory entry exists.
func (db *DB) UserExists(userID string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM users WHERE id = ?`, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return n > 0, nil
}

// InsertTransaction appends a single ledger entry.
func (db *DB) InsertTransaction(txn models.Transaction) error {
	query := `INSERT INTO transactions (
		id, user_id, kind, points, source, source_id, description, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(
		query,
		txn.ID,
		txn.UserID,
		string(txn.Kind),
		txn.Points,
		txn.Source,
		txn.SourceID,
		txn.Description,
		txn.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
	}

	return nil
}

// GetBalance aggregates a user's full transaction set into a balance view.
func (db *DB) GetBalance(userID string) (models.Balance, error) {
	query := `SELECT
		COALESCE(SUM(points), 0),
		COALESCE(SUM(CASE WHEN points > 0 THEN points ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN points < 0 THEN -points ELSE 0 END), 0)
		FROM transactions WHERE user_id = ?`

	balance := models.Balance{UserID: userID}
	err := db.conn.QueryRow(query, userID).Scan(
		&balance.Balance,
		&balance.TotalEarned,
		&balance.TotalRedeemed,
	)
	if err != nil {
		return models.Balance{}, fmt.Errorf("failed to aggregate balance: %w", err)
	}

	return balance, nil
}

// CountTransactions returns the number of ledger entries for a user.
func (db *DB) CountTransactions(userID string) (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM transactions WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// ListTransactions returns a page of a user's transactions, newest first,
// along with the total count matching the filter.
func (db *DB) ListTransactions(
	userID string,
	filter models.HistoryFilter,
	page, limit int,
) ([]models.Transaction, int, error) {
	where := `WHERE user_id = ?`
	args := []interface{}{userID}

	if filter.Kind != nil {
		where += ` AND kind = ?`
		args = append(args, string(*filter.Kind))
	}
	// Stored timestamps are UTC; bounds must be normalized to UTC before
	// formatting or the lexical comparison misorders offset-bearing input.
	if filter.StartDate != nil {
		where += ` AND created_at >= ?`
		args = append(args, filter.StartDate.UTC().Format(time.RFC3339))
	}
	if filter.EndDate != nil {
		where += ` AND created_at <= ?`
		args = append(args, filter.EndDate.UTC().Format(time.RFC3339))
	}

	var total int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM transactions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `SELECT id, user_id, kind, points, source, source_id, description, created_at
		FROM transactions ` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, (page-1)*limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var items []models.Transaction
	for rows.Next() {
		var txn models.Transaction
		var kind, createdAtStr string

		err := rows.Scan(
			&txn.ID,
			&txn.UserID,
			&kind,
			&txn.Points,
			&txn.Source,
			&txn.SourceID,
			&txn.Description,
			&createdAtStr,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}

		txn.Kind = models.TransactionKind(kind)
		txn.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to parse created_at: %w", err)
		}

		items = append(items, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating transactions: %w", err)
	}

	return items, total, nil
}

// SumPointsByUser returns the cumulative signed points of every user with at
// least one ledger entry. Used to rebuild leaderboard projections.
func (db *DB) SumPointsByUser() (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT user_id, COALESCE(SUM(points), 0) FROM transactions GROUP BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to sum points by user: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var userID string
		var total int
		if err := rows.Scan(&userID, &total); err != nil {
			return nil, fmt.Errorf("failed to scan point total: %w", err)
		}
		totals[userID] = total
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating point totals: %w", err)
	}

	return totals, nil
}

// RecordCheckIn records one active calendar day for a user. Multiple check-ins
// on the same date collapse to a single row; the return value reports whether
// a new row was inserted.
func (db *DB) RecordCheckIn(userID, activityDate, activityType string, createdAt time.Time) (bool, error) {
	res, err := db.conn.Exec(
		`INSERT OR IGNORE INTO check_ins (user_id, activity_date, activity_type, created_at)
		VALUES (?, ?, ?, ?)`,
		userID, activityDate, activityType, createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record check-in: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return n > 0, nil
}

// DistinctCheckInDates returns a user's distinct activity dates, most recent
// first, at calendar-day granularity (UTC midnight).
func (db *DB) DistinctCheckInDates(userID string) ([]time.Time, error) {
	rows, err := db.conn.Query(
		`SELECT activity_date FROM check_ins WHERE user_id = ? ORDER BY activity_date DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query check-in dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var dateStr string
		if err := rows.Scan(&dateStr); err != nil {
			return nil, fmt.Errorf("failed to scan check-in date: %w", err)
		}

		date, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("failed to parse activity_date: %w", err)
		}
		dates = append(dates, date)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating check-in dates: %w", err)
	}

	return dates, nil
}

// InsertStreakBonus persists the idempotency/audit record for a fired bonus.
func (db *DB) InsertStreakBonus(record models.StreakBonusRecord) error {
	_, err := db.conn.Exec(
		`INSERT INTO streak_bonuses (id, user_id, streak_days, points_awarded, awarded_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.ID,
		record.UserID,
		record.StreakDays,
		record.PointsAwarded,
		record.AwardedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert streak bonus record: %w", err)
	}

	return nil
}

// HasStreakBonusBetween reports whether a bonus record exists for the exact
// (user, streakDays) pair with awarded_at in [from, to).
func (db *DB) HasStreakBonusBetween(userID string, streakDays int, from, to time.Time) (bool, error) {
	var n int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM streak_bonuses
		WHERE user_id = ? AND streak_days = ? AND awarded_at >= ? AND awarded_at < ?`,
		userID, streakDays, from.Format(time.RFC3339), to.Format(time.RFC3339),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check streak bonus record: %w", err)
	}

	return n > 0, nil
}
