package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"points-ledger-api/internal/database"
	"points-ledger-api/internal/events"
	"points-ledger-api/internal/features"
	"points-ledger-api/internal/leaderboard"
	"points-ledger-api/internal/ledger"
	"points-ledger-api/internal/metrics"
	"points-ledger-api/internal/models"
	"points-ledger-api/internal/rules"
	"points-ledger-api/internal/streak"
	"points-ledger-api/internal/validation"
)

// Service orchestrates the points engine: rules lookups, ledger writes, streak
// detection and leaderboard queries. The rules engine pointer is swapped
// atomically on admin reload; everything else is immutable after construction.
type Service struct {
	db        *database.DB
	ledger    *ledger.Ledger
	streaks   *streak.Calculator
	board     *leaderboard.Board
	events    *events.Manager
	flags     *features.Manager
	rulesPath string
	rules     atomic.Pointer[rules.Engine]
	logger    *slog.Logger
}

// NewService creates a service instance. events and flags may be nil; absent
// flags mean every feature is on.
func NewService(
	db *database.DB,
	ldg *ledger.Ledger,
	streaks *streak.Calculator,
	board *leaderboard.Board,
	engine *rules.Engine,
	eventMgr *events.Manager,
	flags *features.Manager,
	rulesPath string,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		db:        db,
		ledger:    ldg,
		streaks:   streaks,
		board:     board,
		events:    eventMgr,
		flags:     flags,
		rulesPath: rulesPath,
		logger:    logger,
	}
	s.rules.Store(engine)

	return s
}

// Rules returns the currently published rules engine.
func (s *Service) Rules() *rules.Engine {
	return s.rules.Load()
}

func (s *Service) flagEnabled(name string) bool {
	if s.flags == nil {
		return true
	}
	return s.flags.IsEnabled(name)
}

// RegisterUser creates or updates a user directory entry.
func (s *Service) RegisterUser(ctx context.Context, user models.User) (models.User, error) {
	user.ID = validation.SanitizeString(user.ID)
	user.Username = validation.SanitizeString(user.Username)

	if err := validation.ValidateUser(user); err != nil {
		return models.User{}, err
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	if err := s.db.UpsertUser(user); err != nil {
		return models.User{}, err
	}

	return user, nil
}

// Earn records a positive EARN movement at now.
func (s *Service) Earn(ctx context.Context, req models.PointsRequest, now time.Time) (models.Transaction, error) {
	if err := validation.ValidatePointsRequest(req); err != nil {
		return models.Transaction{}, err
	}

	txn, err := s.ledger.RecordEarn(ctx, req.UserID, req.Points, req.Source, req.SourceID, req.Description, now)
	if err != nil {
		return models.Transaction{}, err
	}

	s.publishTransaction(ctx, txn)
	return txn, nil
}

// Redeem records a REDEEM movement at now, after the ledger's balance check.
func (s *Service) Redeem(ctx context.Context, req models.PointsRequest, now time.Time) (models.Transaction, error) {
	if err := validation.ValidatePointsRequest(req); err != nil {
		return models.Transaction{}, err
	}

	txn, err := s.ledger.RecordRedeem(ctx, req.UserID, req.Points, req.Source, req.Description, now)
	if err != nil {
		return models.Transaction{}, err
	}

	s.publishTransaction(ctx, txn)
	return txn, nil
}

// Bonus records a positive BONUS movement at now.
func (s *Service) Bonus(ctx context.Context, req models.PointsRequest, now time.Time) (models.Transaction, error) {
	if err := validation.ValidatePointsRequest(req); err != nil {
		return models.Transaction{}, err
	}

	txn, err := s.ledger.RecordBonus(ctx, req.UserID, req.Points, req.Source, req.Description, now)
	if err != nil {
		return models.Transaction{}, err
	}

	s.publishTransaction(ctx, txn)
	return txn, nil
}

// CheckIn runs the daily check-in flow: record the active day, award the
// activity's points, recompute the streak and award a streak bonus when a
// tier fires for the first time today. The second check-in of a day is a
// no-op reporting AlreadyCheckedIn.
func (s *Service) CheckIn(ctx context.Context, userID, activityType string, now time.Time) (models.CheckInResult, error) {
	userID = validation.SanitizeString(userID)
	activityType = validation.SanitizeString(activityType)

	if err := validation.ValidateUserID(userID, "user_id"); err != nil {
		return models.CheckInResult{}, err
	}
	if err := validation.ValidateActivityType(activityType); err != nil {
		return models.CheckInResult{}, err
	}

	exists, err := s.db.UserExists(userID)
	if err != nil {
		return models.CheckInResult{}, err
	}
	if !exists {
		return models.CheckInResult{}, ledger.ErrUserNotFound
	}

	result := models.CheckInResult{
		UserID:       userID,
		ActivityType: activityType,
	}

	inserted, err := s.streaks.RecordCheckIn(ctx, userID, activityType, now)
	if err != nil {
		return models.CheckInResult{}, err
	}

	streakDays, err := s.streaks.CalculateStreakDays(ctx, userID, now)
	if err != nil {
		return models.CheckInResult{}, err
	}
	result.StreakDays = streakDays

	if !inserted {
		result.AlreadyCheckedIn = true
		return result, nil
	}
	metrics.CheckIns.Inc()

	engine := s.rules.Load()
	points := engine.CalculateCheckInPoints(activityType)
	if points > 0 {
		txn, err := s.ledger.RecordEarn(ctx, userID, points, "check_in", now.UTC().Format("2006-01-02"),
			fmt.Sprintf("daily check-in (%s)", activityType), now)
		if err != nil {
			return models.CheckInResult{}, err
		}
		result.PointsAwarded = points
		s.publishTransaction(ctx, txn)
	}

	if s.flagEnabled(features.FeatureStreakBonuses) {
		bonus := engine.CalculateStreakBonus(streakDays)
		if bonus > 0 {
			awarded, err := s.awardStreakBonus(ctx, userID, streakDays, bonus, now)
			if err != nil {
				return models.CheckInResult{}, err
			}
			result.BonusAwarded = awarded
		}
	}

	if s.events != nil {
		s.events.PublishCheckInCompleted(ctx, result)
	}

	s.logger.Info("check-in completed",
		"user_id", userID,
		"activity_type", activityType,
		"points", result.PointsAwarded,
		"streak_days", result.StreakDays,
		"bonus", result.BonusAwarded,
	)

	return result, nil
}

// awardStreakBonus records the bonus transaction and its idempotency guard.
// Returns 0 when the same tier already fired today.
func (s *Service) awardStreakBonus(ctx context.Context, userID string, streakDays, bonus int, now time.Time) (int, error) {
	triggered, err := s.streaks.HasTodayBonusTriggered(ctx, userID, streakDays, now)
	if err != nil {
		return 0, err
	}
	if triggered {
		return 0, nil
	}

	txn, err := s.ledger.RecordBonus(ctx, userID, bonus, "streak_bonus",
		fmt.Sprintf("%d-day streak bonus", streakDays), now)
	if err != nil {
		return 0, err
	}
	s.publishTransaction(ctx, txn)

	record, err := s.streaks.RecordStreakBonus(ctx, userID, streakDays, bonus, now)
	if err != nil {
		return 0, err
	}
	metrics.StreakBonusesAwarded.Inc()

	if s.events != nil {
		s.events.PublishStreakMilestone(ctx, record)
	}

	return bonus, nil
}

// Balance returns the user's derived balance view.
func (s *Service) Balance(ctx context.Context, userID string) (models.Balance, error) {
	if err := validation.ValidateUserID(userID, "user_id"); err != nil {
		return models.Balance{}, err
	}
	return s.ledger.GetBalance(ctx, userID)
}

// History returns a filtered, paginated transaction history.
func (s *Service) History(ctx context.Context, userID string, filter models.HistoryFilter, page, limit int) (models.HistoryResponse, error) {
	if err := validation.ValidateUserID(userID, "user_id"); err != nil {
		return models.HistoryResponse{}, err
	}
	return s.ledger.GetHistory(ctx, userID, filter, page, limit)
}

// StreakInfo returns the user's streak summary.
func (s *Service) StreakInfo(ctx context.Context, userID string, now time.Time) (models.StreakInfo, error) {
	if err := validation.ValidateUserID(userID, "user_id"); err != nil {
		return models.StreakInfo{}, err
	}

	exists, err := s.db.UserExists(userID)
	if err != nil {
		return models.StreakInfo{}, err
	}
	if !exists {
		return models.StreakInfo{}, ledger.ErrUserNotFound
	}

	return s.streaks.GetStreakInfo(ctx, userID, now)
}

// Leaderboard returns the top entries of a window plus, when userID is
// supplied, that user's own rank and score.
func (s *Service) Leaderboard(ctx context.Context, window string, limit int, userID string, now time.Time) (models.LeaderboardResponse, error) {
	if limit < 1 {
		limit = 100
	}
	if limit > 100 {
		limit = 100
	}

	top, err := s.board.TopN(ctx, window, limit, now)
	if err != nil {
		return models.LeaderboardResponse{}, err
	}

	total, err := s.board.WindowSize(ctx, window, now)
	if err != nil {
		return models.LeaderboardResponse{}, err
	}

	resp := models.LeaderboardResponse{
		Window:     window,
		TopEntries: top,
		TotalUsers: total,
	}

	if userID != "" {
		rank, ok, err := s.board.UserRank(ctx, window, userID, now)
		if err != nil {
			return models.LeaderboardResponse{}, err
		}
		if ok {
			score, err := s.board.UserScore(ctx, window, userID, now)
			if err != nil {
				return models.LeaderboardResponse{}, err
			}
			resp.CurrentUser = &models.LeaderboardEntry{
				Rank:   rank,
				UserID: userID,
				Points: score,
			}
		}
	}

	return resp, nil
}

// ReloadRules re-reads and validates the rules file, then publishes the new
// engine atomically. On failure the previous engine stays in effect.
func (s *Service) ReloadRules(ctx context.Context) (string, error) {
	engine, err := rules.Load(s.rulesPath, s.logger)
	if err != nil {
		return "", err
	}

	s.rules.Store(engine)
	s.logger.Info("rules config reloaded", "version", engine.Version())

	return engine.Version(), nil
}

// RebuildLeaderboard replays cumulative ledger totals into the all-time
// window. Only the all-time window is rebuilt; past weekly windows are left
// as recorded.
func (s *Service) RebuildLeaderboard(ctx context.Context) error {
	totals, err := s.db.SumPointsByUser()
	if err != nil {
		return err
	}

	return s.board.Rebuild(ctx, leaderboard.WindowAllTime, totals, time.Now().UTC())
}

func (s *Service) publishTransaction(ctx context.Context, txn models.Transaction) {
	if s.events == nil {
		return
	}
	s.events.PublishTransactionRecorded(ctx, txn)
}
