package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/trogers1052/stock-backtester/internal/backtest"
	"github.com/trogers1052/stock-backtester/internal/models"
	"github.com/trogers1052/stock-backtester/internal/service"
	"github.com/yanun0323/logs"
)

const dateLayout = "2006-01-02"

// RunQueue hands run requests to the asynchronous consumer
type RunQueue interface {
	PublishRunRequested(ctx context.Context, req *models.RunRequest) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	svc       *service.BacktestService
	queue     RunQueue
	listLimit int
}

// NewHandler creates a new Handler. queue may be nil, in which case
// asynchronous submission is refused.
func NewHandler(svc *service.BacktestService, queue RunQueue, listLimit int) *Handler {
	if listLimit <= 0 {
		listLimit = 50
	}
	return &Handler{
		svc:       svc,
		queue:     queue,
		listLimit: listLimit,
	}
}

// RunBacktest handles POST /backtests. With ?async=true the request is
// queued on Kafka instead of run inline.
func (h *Handler) RunBacktest(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		if h.queue == nil {
			http.Error(w, "asynchronous runs are disabled", http.StatusServiceUnavailable)
			return
		}
		if req.Name == "" {
			http.Error(w, "name is required for asynchronous runs", http.StatusBadRequest)
			return
		}
		if err := h.queue.PublishRunRequested(r.Context(), &req); err != nil {
			logs.Errorf("failed to queue run %q: %v", req.Name, err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "name": req.Name})
		return
	}

	report, err := h.svc.Run(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	respondJSON(w, http.StatusCreated, report)
}

// ListBacktests handles GET /backtests
func (h *Handler) ListBacktests(w http.ResponseWriter, r *http.Request) {
	limit := h.listLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, h.listLimit)
	}

	runs, err := h.svc.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, runs)
}

// GetBacktest handles GET /backtests/{id}
func (h *Handler) GetBacktest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}

	report, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), lookupStatus(err))
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// GetPrices handles GET /prices/{symbol}?begin=&end=
func (h *Handler) GetPrices(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]

	begin, err := time.Parse(dateLayout, r.URL.Query().Get("begin"))
	if err != nil {
		http.Error(w, "begin must be a date (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	var end time.Time
	if s := r.URL.Query().Get("end"); s != "" {
		if end, err = time.Parse(dateLayout, s); err != nil {
			http.Error(w, "end must be a date (YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
	}

	prices, err := h.svc.Prices(r.Context(), symbol, begin, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(prices) == 0 {
		http.Error(w, "no price data found for "+symbol, http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, prices)
}

// GetLatestPrice handles GET /prices/{symbol}/latest
func (h *Handler) GetLatestPrice(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	price, err := h.svc.LatestPrice(r.Context(), symbol)
	if err != nil {
		http.Error(w, err.Error(), lookupStatus(err))
		return
	}

	respondJSON(w, http.StatusOK, price)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, backtest.ErrValidation), errors.Is(err, backtest.ErrLookahead):
		return http.StatusBadRequest
	case errors.Is(err, backtest.ErrDataUnavailable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func lookupStatus(err error) int {
	if errors.Is(err, models.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
