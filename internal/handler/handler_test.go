package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"points-ledger-api/internal/database"
	"points-ledger-api/internal/leaderboard"
	"points-ledger-api/internal/ledger"
	"points-ledger-api/internal/models"
	"points-ledger-api/internal/rules"
	"points-ledger-api/internal/service"
	"points-ledger-api/internal/streak"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func setupTestHandler(t *testing.T) (*Handler, func()) {
	t.Helper()

	dbPath := "./test_handler_" + uuid.New().String() + ".db"
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := rules.New(rules.Config{
		Version: "test-1",
		CheckInRules: map[string]rules.Rule{
			"check_in": {Points: 10},
			"post":     {Points: 20},
			"comment":  {Points: 5},
		},
		StreakBonusRules: map[string]rules.Rule{
			"7": {Points: 50},
		},
	}, logger)
	if err != nil {
		t.Fatalf("Failed to build rules engine: %v", err)
	}

	board := leaderboard.NewBoard(leaderboard.NewInMemoryRanking(), logger)
	svc := service.NewService(db, ledger.New(db, board, logger), streak.NewCalculator(db), board, engine, nil, nil, "", logger)
	h := NewHandler(svc)

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}

	return h, cleanup
}

func setupRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/users", h.RegisterUser)
	r.Post("/users/{user_id}/check-in", h.CheckIn)
	r.Get("/users/{user_id}/balance", h.GetBalance)
	r.Get("/users/{user_id}/transactions", h.GetHistory)
	r.Get("/users/{user_id}/streak", h.GetStreak)
	r.Post("/points/earn", h.Earn)
	r.Post("/points/redeem", h.Redeem)
	r.Post("/points/bonus", h.Bonus)
	r.Get("/leaderboard", h.GetLeaderboard)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return r
}

func doJSON(t *testing.T, r *chi.Mux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	return rr
}

func registerTestUser(t *testing.T, r *chi.Mux, userID string) {
	t.Helper()
	rr := doJSON(t, r, "POST", "/users", models.User{ID: userID, Username: "user " + userID})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Failed to register user: status %d body %s", rr.Code, rr.Body.String())
	}
}

func TestHealthCheck(t *testing.T) {
	h, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", rr.Body.String())
	}
}

func TestEarnAndBalance(t *testing.T) {
	h, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	registerTestUser(t, r, "u1")

	rr := doJSON(t, r, "POST", "/points/earn", models.PointsRequest{
		UserID: "u1", Points: 100, Source: "check_in",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var txn models.Transaction
	if err := json.NewDecoder(rr.Body).Decode(&txn); err != nil {
		t.Fatalf("Failed to decode transaction: %v", err)
	}
	if txn.Kind != models.KindEarn || txn.Points != 100 {
		t.Errorf("Unexpected transaction: %+v", txn)
	}

	rr = doJSON(t, r, "GET", "/users/u1/balance", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var balance models.Balance
	if err := json.NewDecoder(rr.Body).Decode(&balance); err != nil {
		t.Fatalf("Failed to decode balance: %v", err)
	}
	if balance.Balance != 100 || balance.TotalEarned != 100 || balance.TotalRedeemed != 0 {
		t.Errorf("Unexpected balance: %+v", balance)
	}
}

func TestRedeem_InsufficientBalanceReturns409(t *testing.T) {
	h, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	registerTestUser(t, r, "u1")

	doJSON(t, r, "POST", "/points/earn", models.PointsRequest{UserID: "u1", Points: 100})

	rr := doJSON(t, r, "POST", "/points/redeem", models.PointsRequest{UserID: "u1", Points: 150})
	if rr.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp models.InsufficientBalanceResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if resp.Current != 100 || resp.Requested != 150 {
		t.Errorf("Expected {current: 100, requested: 150}, got %+v", resp)
	}
}

func TestEarn_UnknownUserReturns404(t *testing.T) {
	h, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	rr := doJSON(t, r, "POST", "/points/earn", models.PointsRequest{UserID: "ghost", Points: 10})
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestEarn_NonPositivePointsReturns400(t *testing.T) {
	h, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	registerTestUser(t, r, "u1")

	rr := doJSON(t, r, "POST", "/points/earn", models.PointsRequest{UserID: "u1", Points: 0})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestCheckInEndpoint(t *testing.T) {
	h, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	registerTestUser(t, r, "u1")

	rr := doJSON(t, r, "POST", "/users/u1/check-in?now=2026-04-01T08:00:00Z", models.CheckInRequest{
		ActivityType: "check_in",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result models.CheckInResult
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode check-in result: %v", err)
	}
	if result.PointsAwarded != 10 || result.StreakDays != 1 || result.AlreadyCheckedIn {
		t.Errorf("Unexpected check-in result: %+v", result)
	}

	// Streak endpoint agrees.
	rr = doJSON(t, r, "GET", "/users/u1/streak?now=2026-04-01T20:00:00Z", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var info models.StreakInfo
	if err := json.NewDecoder(rr.Body).Decode(&info); err != nil {
		t.Fatalf("Failed to decode streak info: %v", err)
	}
	if info.CurrentStreak != 1 {
		t.Errorf("Expected current streak 1, got %d", info.CurrentStreak)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	h, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	registerTestUser(t, r, "u1")
	registerTestUser(t, r, "u2")

	doJSON(t, r, "POST", "/points/earn", models.PointsRequest{UserID: "u1", Points: 100})
	doJSON(t, r, "POST", "/points/earn", models.PointsRequest{UserID: "u2", Points: 200})

	rr := doJSON(t, r, "GET", "/leaderboard?window=all-time&limit=10&user_id=u1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp models.LeaderboardResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode leaderboard: %v", err)
	}

	if resp.TotalUsers != 2 || len(resp.TopEntries) != 2 {
		t.Fatalf("Expected 2 users, got %+v", resp)
	}
	if resp.TopEntries[0].UserID != "u2" || resp.TopEntries[0].Rank != 1 {
		t.Errorf("Expected u2 at rank 1, got %+v", resp.TopEntries[0])
	}
	if resp.CurrentUser == nil || resp.CurrentUser.Rank != 2 || resp.CurrentUser.Points != 100 {
		t.Errorf("Expected current user u1 at rank 2 with 100 points, got %+v", resp.CurrentUser)
	}
}

func TestLeaderboardEndpoint_UnknownWindowReturns400(t *testing.T) {
	h, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	rr := doJSON(t, r, "GET", "/leaderboard?window=monthly", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestHistoryEndpoint_KindFilter(t *testing.T) {
	h, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)
	registerTestUser(t, r, "u1")

	doJSON(t, r, "POST", "/points/earn", models.PointsRequest{UserID: "u1", Points: 100})
	doJSON(t, r, "POST", "/points/bonus", models.PointsRequest{UserID: "u1", Points: 50, Source: "streak_bonus"})
	doJSON(t, r, "POST", "/points/redeem", models.PointsRequest{UserID: "u1", Points: 30})

	rr := doJSON(t, r, "GET", "/users/u1/transactions?kind=EARN", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var history models.HistoryResponse
	if err := json.NewDecoder(rr.Body).Decode(&history); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if history.Total != 1 || len(history.Items) != 1 {
		t.Fatalf("Expected 1 EARN entry, got %+v", history)
	}
	if history.Items[0].Kind != models.KindEarn {
		t.Errorf("Expected EARN entry, got %s", history.Items[0].Kind)
	}
	if history.Page != 1 || history.Limit != 20 {
		t.Errorf("Expected default page 1 limit 20, got page %d limit %d", history.Page, history.Limit)
	}

	rr = doJSON(t, r, "GET", "/users/u1/transactions?kind=banana", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad kind, got %d", rr.Code)
	}
}

func TestRegisterUser_InvalidBodyReturns400(t *testing.T) {
	h, cleanup := setupTestHandler(t)
	defer cleanup()

	r := setupRouter(h)

	req := httptest.NewRequest("POST", "/users", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}
