// Package ledger implements the append-only transaction ledger and the
// balance views derived from it. The transaction set is the sole source of
// truth for a user's point state; every other projection (leaderboards) is
// derived and best-effort.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"points-ledger-api/internal/database"
	"points-ledger-api/internal/metrics"
	"points-ledger-api/internal/models"
)

// Syncer receives the signed delta of every committed ledger mutation, along
// with the mutation's timestamp so time-windowed projections bucket by the
// caller's clock. Implementations must absorb their own failures; a projection
// write must never fail the originating ledger operation.
type Syncer interface {
	ApplyDelta(ctx context.Context, userID string, delta int, now time.Time)
}

// Ledger is the only component that writes transactions.
type Ledger struct {
	db     *database.DB
	sync   Syncer
	locks  *userLocks
	logger *slog.Logger
}

// New creates a ledger. sync may be nil when no leaderboard projection is
// wired (tests, degraded deployments).
func New(db *database.DB, sync Syncer, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		db:     db,
		sync:   sync,
		locks:  newUserLocks(),
		logger: logger,
	}
}

// RecordEarn appends a positive EARN entry for the user.
func (l *Ledger) RecordEarn(ctx context.Context, userID string, points int, source, sourceID, description string, now time.Time) (models.Transaction, error) {
	return l.append(ctx, userID, models.KindEarn, points, source, sourceID, description, now)
}

// RecordBonus appends a positive BONUS entry for the user.
func (l *Ledger) RecordBonus(ctx context.Context, userID string, points int, source, description string, now time.Time) (models.Transaction, error) {
	return l.append(ctx, userID, models.KindBonus, points, source, "", description, now)
}

// RecordRedeem appends a REDEEM entry storing -points, after verifying the
// user's current balance covers the request. The balance check and the append
// are serialized per user so two concurrent redeems cannot both pass a check
// that only covers one of them.
func (l *Ledger) RecordRedeem(ctx context.Context, userID string, points int, source, description string, now time.Time) (models.Transaction, error) {
	if points <= 0 {
		return models.Transaction{}, ErrInvalidPoints
	}

	exists, err := l.db.UserExists(userID)
	if err != nil {
		return models.Transaction{}, err
	}
	if !exists {
		return models.Transaction{}, ErrUserNotFound
	}

	unlock := l.locks.lock(userID)
	defer unlock()

	balance, err := l.db.GetBalance(userID)
	if err != nil {
		return models.Transaction{}, err
	}
	if points > balance.Balance {
		return models.Transaction{}, &InsufficientBalanceError{
			Current:   balance.Balance,
			Requested: points,
		}
	}

	txn := models.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Kind:        models.KindRedeem,
		Points:      -points,
		Source:      source,
		Description: description,
		CreatedAt:   now.UTC(),
	}

	if err := l.db.InsertTransaction(txn); err != nil {
		return models.Transaction{}, err
	}

	metrics.TransactionsRecorded.WithLabelValues(string(models.KindRedeem)).Inc()
	l.dispatchDelta(ctx, userID, txn.Points, txn.CreatedAt)

	return txn, nil
}

// GetBalance aggregates the user's transactions into a balance view.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (models.Balance, error) {
	exists, err := l.db.UserExists(userID)
	if err != nil {
		return models.Balance{}, err
	}
	if !exists {
		return models.Balance{}, ErrUserNotFound
	}

	return l.db.GetBalance(userID)
}

// GetHistory returns a filtered, paginated view of the user's transactions,
// newest first. Page defaults to 1, limit to 20 (capped at 100).
func (l *Ledger) GetHistory(ctx context.Context, userID string, filter models.HistoryFilter, page, limit int) (models.HistoryResponse, error) {
	exists, err := l.db.UserExists(userID)
	if err != nil {
		return models.HistoryResponse{}, err
	}
	if !exists {
		return models.HistoryResponse{}, ErrUserNotFound
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	items, total, err := l.db.ListTransactions(userID, filter, page, limit)
	if err != nil {
		return models.HistoryResponse{}, err
	}

	return models.HistoryResponse{
		Items: items,
		Total: total,
		Page:  page,
		Limit: limit,
	}, nil
}

// append validates and writes a positive-valued entry (EARN or BONUS), then
// dispatches the delta to the leaderboard projection.
func (l *Ledger) append(ctx context.Context, userID string, kind models.TransactionKind, points int, source, sourceID, description string, now time.Time) (models.Transaction, error) {
	if points <= 0 {
		return models.Transaction{}, ErrInvalidPoints
	}

	exists, err := l.db.UserExists(userID)
	if err != nil {
		return models.Transaction{}, err
	}
	if !exists {
		return models.Transaction{}, ErrUserNotFound
	}

	txn := models.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Kind:        kind,
		Points:      points,
		Source:      source,
		SourceID:    sourceID,
		Description: description,
		CreatedAt:   now.UTC(),
	}

	if err := l.db.InsertTransaction(txn); err != nil {
		return models.Transaction{}, err
	}

	metrics.TransactionsRecorded.WithLabelValues(string(kind)).Inc()
	l.dispatchDelta(ctx, userID, points, txn.CreatedAt)

	return txn, nil
}

func (l *Ledger) dispatchDelta(ctx context.Context, userID string, delta int, now time.Time) {
	if l.sync == nil {
		return
	}
	l.sync.ApplyDelta(ctx, userID, delta, now)
}

// userLocks serializes redeem check-and-append sequences per user. One mutex
// per user seen by a redeem; entries are never evicted.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

func (u *userLocks) lock(userID string) (unlock func()) {
	u.mu.Lock()
	m, ok := u.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		u.locks[userID] = m
	}
	u.mu.Unlock()

	m.Lock()
	return m.Unlock
}
