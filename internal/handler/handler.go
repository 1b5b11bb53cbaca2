package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"points-ledger-api/internal/leaderboard"
	"points-ledger-api/internal/ledger"
	"points-ledger-api/internal/models"
	"points-ledger-api/internal/service"
	"points-ledger-api/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20, // 1MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
	}
}

// RegisterUser handles POST /users
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.User
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.service.RegisterUser(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, user)
}

// CheckIn handles POST /users/{user_id}/check-in
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	userID := validation.SanitizeString(chi.URLParam(r, "user_id"))

	var req models.CheckInRequest
	if !h.decode(w, r, &req) {
		return
	}

	now, ok := h.parseNow(w, r)
	if !ok {
		return
	}

	result, err := h.service.CheckIn(r.Context(), userID, req.ActivityType, now)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// Earn handles POST /points/earn
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	h.handlePoints(w, r, h.service.Earn)
}

// Redeem handles POST /points/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	h.handlePoints(w, r, h.service.Redeem)
}

// Bonus handles POST /points/bonus
func (h *Handler) Bonus(w http.ResponseWriter, r *http.Request) {
	h.handlePoints(w, r, h.service.Bonus)
}

// GetBalance handles GET /users/{user_id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := validation.SanitizeString(chi.URLParam(r, "user_id"))

	balance, err := h.service.Balance(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, balance)
}

// GetHistory handles GET /users/{user_id}/transactions
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := validation.SanitizeString(chi.URLParam(r, "user_id"))

	var filter models.HistoryFilter
	q := r.URL.Query()

	if kindParam := q.Get("kind"); kindParam != "" {
		kind, err := validation.ValidateKind(kindParam)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Kind = &kind
	}

	if startParam := q.Get("start_date"); startParam != "" {
		start, err := validation.ValidateTimeString(startParam)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid 'start_date' parameter, must be RFC3339 format")
			return
		}
		filter.StartDate = &start
	}

	if endParam := q.Get("end_date"); endParam != "" {
		end, err := validation.ValidateTimeString(endParam)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid 'end_date' parameter, must be RFC3339 format")
			return
		}
		filter.EndDate = &end
	}

	page := intParam(q.Get("page"), 1)
	limit := intParam(q.Get("limit"), 20)

	history, err := h.service.History(r.Context(), userID, filter, page, limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, history)
}

// GetStreak handles GET /users/{user_id}/streak
func (h *Handler) GetStreak(w http.ResponseWriter, r *http.Request) {
	userID := validation.SanitizeString(chi.URLParam(r, "user_id"))

	now, ok := h.parseNow(w, r)
	if !ok {
		return
	}

	info, err := h.service.StreakInfo(r.Context(), userID, now)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, info)
}

// GetLeaderboard handles GET /leaderboard
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	window := q.Get("window")
	if window == "" {
		window = leaderboard.WindowAllTime
	}

	limit := intParam(q.Get("limit"), 100)
	userID := validation.SanitizeString(q.Get("user_id"))

	now, ok := h.parseNow(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Leaderboard(r.Context(), window, limit, userID, now)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// ReloadRules handles POST /admin/rules/reload
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	version, err := h.service.ReloadRules(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"version": version})
}

// RebuildLeaderboard handles POST /admin/leaderboard/rebuild
func (h *Handler) RebuildLeaderboard(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RebuildLeaderboard(r.Context()); err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

// handlePoints is the shared body for the earn/redeem/bonus endpoints.
func (h *Handler) handlePoints(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, req models.PointsRequest, now time.Time) (models.Transaction, error),
) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.PointsRequest
	if !h.decode(w, r, &req) {
		return
	}

	req.UserID = validation.SanitizeString(req.UserID)
	req.Source = validation.SanitizeString(req.Source)
	req.SourceID = validation.SanitizeString(req.SourceID)
	req.Description = validation.SanitizeString(req.Description)

	now, ok := h.parseNow(w, r)
	if !ok {
		return
	}

	txn, err := op(r.Context(), req, now)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, txn)
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// parseNow reads the optional 'now' query parameter, defaulting to the
// current UTC time.
func (h *Handler) parseNow(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	now := time.Now().UTC()
	if nowParam := r.URL.Query().Get("now"); nowParam != "" {
		parsed, err := validation.ValidateTimeString(validation.SanitizeString(nowParam))
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid 'now' parameter, must be RFC3339 format")
			return time.Time{}, false
		}
		now = parsed.UTC()
	}
	return now, true
}

// decode reads and decodes a JSON request body, responding on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

// respondServiceError maps service/ledger errors onto HTTP statuses.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		h.respondJSON(w, http.StatusConflict, models.InsufficientBalanceResponse{
			Error:     insufficient.Error(),
			Current:   insufficient.Current,
			Requested: insufficient.Requested,
		})
		return
	}

	var invalid *validation.ValidationError
	switch {
	case errors.Is(err, ledger.ErrUserNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidPoints), errors.As(err, &invalid), errors.Is(err, leaderboard.ErrUnknownWindow):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
