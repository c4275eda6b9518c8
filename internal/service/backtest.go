package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/stock-backtester/internal/backtest"
	"github.com/trogers1052/stock-backtester/internal/marketdata"
	"github.com/trogers1052/stock-backtester/internal/models"
	"github.com/trogers1052/stock-backtester/internal/runner"
	"github.com/yanun0323/logs"
)

// ReportStore persists finished runs
type ReportStore interface {
	SaveRunReport(ctx context.Context, report *models.RunReport) error
	GetRunReport(ctx context.Context, id int) (*models.RunReport, error)
	ListRuns(ctx context.Context, limit int) ([]*models.RunSummary, error)
}

// PriceStore reads stored daily bars
type PriceStore interface {
	GetPriceDataRange(ctx context.Context, symbol string, startDate, endDate time.Time) ([]*models.PriceDataDaily, error)
	GetLatestPriceData(ctx context.Context, symbol string) (*models.PriceDataDaily, error)
}

// EventPublisher exports the progress of runs
type EventPublisher interface {
	RunObserver(runName string) runner.Observer
	PublishRunCompleted(ctx context.Context, summary *models.RunSummary) error
}

// Defaults fill in request fields left empty
type Defaults struct {
	Commission  decimal.Decimal
	Slippage    decimal.Decimal
	InitialCash decimal.Decimal
}

// BacktestService runs scripted backtests against stored market data
type BacktestService struct {
	provider  marketdata.Provider
	store     ReportStore
	prices    PriceStore
	publisher EventPublisher
	defaults  Defaults
}

// NewBacktestService creates a service. publisher may be nil.
func NewBacktestService(provider marketdata.Provider, store ReportStore, prices PriceStore, publisher EventPublisher, defaults Defaults) *BacktestService {
	return &BacktestService{
		provider:  provider,
		store:     store,
		prices:    prices,
		publisher: publisher,
		defaults:  defaults,
	}
}

// Run executes req from start to finish, stores the report and publishes
// the run's events
func (s *BacktestService) Run(ctx context.Context, req *models.RunRequest) (*models.RunReport, error) {
	return s.run(ctx, req, nil)
}

// Stream is Run with obs also told about every trade and valuation
func (s *BacktestService) Stream(ctx context.Context, req *models.RunRequest, obs runner.Observer) (*models.RunReport, error) {
	return s.run(ctx, req, obs)
}

func (s *BacktestService) run(ctx context.Context, req *models.RunRequest, obs runner.Observer) (*models.RunReport, error) {
	provider := s.provider
	if len(req.Bars) > 0 {
		provider = marketdata.NewMemoryProvider(req.Bars, nil)
	}

	begin, end := marketdata.Day(req.Begin), marketdata.Day(req.End)
	if req.Begin.IsZero() || req.End.IsZero() || end.Before(begin) {
		return nil, fmt.Errorf("%w: invalid date range", backtest.ErrValidation)
	}

	calendar, err := provider.QueryTradingCalendar(ctx, begin, end, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load trading calendar: %w", err)
	}
	if len(calendar) == 0 {
		return nil, fmt.Errorf("%w: no trading sessions between %s and %s",
			backtest.ErrValidation, begin.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	if err := checkSchedule(req, calendar); err != nil {
		return nil, err
	}

	cash := req.InitialCash
	if cash.IsZero() {
		cash = s.defaults.InitialCash
	}
	commission := s.defaults.Commission
	if req.Commission.Valid {
		commission = req.Commission.Decimal
	}
	slippage := s.defaults.Slippage
	if req.Slippage.Valid {
		slippage = req.Slippage.Decimal
	}

	agent, err := backtest.NewAgent(ctx, provider, cash, calendar, backtest.WithSlippage(slippage))
	if err != nil {
		return nil, fmt.Errorf("failed to open portfolio: %w", err)
	}
	strategy, err := runner.NewScripted(req.Orders, decimal.NewNullDecimal(commission))
	if err != nil {
		return nil, err
	}

	opts := []runner.Option{runner.WithName(req.Name), runner.WithCashFlows(req.CashFlows)}
	if s.publisher != nil {
		opts = append(opts, runner.WithObserver(s.publisher.RunObserver(req.Name)))
	}
	if obs != nil {
		opts = append(opts, runner.WithObserver(obs))
	}

	started := time.Now()
	report, err := runner.New(agent, strategy, opts...).Run(ctx)
	if err != nil {
		return nil, err
	}
	report.Summary.InitialCash = cash

	if err := s.store.SaveRunReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save run report: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishRunCompleted(ctx, &report.Summary); err != nil {
			logs.Errorf("failed to publish completion of run %d: %v", report.Summary.ID, err)
		}
	}

	logs.Infof("run %q (id %d) took %s: %d sessions, %d trades, total return %s",
		req.Name, report.Summary.ID, time.Since(started), report.Summary.Sessions,
		report.Summary.TradeCount, report.Summary.TotalReturn.StringFixed(6))
	return report, nil
}

// checkSchedule rejects orders that would never fire and cash flows past
// the last session
func checkSchedule(req *models.RunRequest, calendar []time.Time) error {
	sessions := make(map[time.Time]bool, len(calendar))
	for _, d := range calendar {
		sessions[d] = true
	}
	for i, o := range req.Orders {
		if !sessions[marketdata.Day(o.Date)] {
			return fmt.Errorf("%w: order %d dated %s is not a trading session",
				backtest.ErrValidation, i, o.Date.Format("2006-01-02"))
		}
	}

	last := calendar[len(calendar)-1]
	for i, f := range req.CashFlows {
		if marketdata.Day(f.Date).After(last) {
			return fmt.Errorf("%w: cash flow %d dated %s is after the last session",
				backtest.ErrValidation, i, f.Date.Format("2006-01-02"))
		}
	}
	return nil
}

// GetRun loads a stored run
func (s *BacktestService) GetRun(ctx context.Context, id int) (*models.RunReport, error) {
	return s.store.GetRunReport(ctx, id)
}

// ListRuns lists the most recent stored runs
func (s *BacktestService) ListRuns(ctx context.Context, limit int) ([]*models.RunSummary, error) {
	return s.store.ListRuns(ctx, limit)
}

// Prices returns the stored bars of symbol between begin and end. A zero
// end selects begin only.
func (s *BacktestService) Prices(ctx context.Context, symbol string, begin, end time.Time) ([]*models.PriceDataDaily, error) {
	if end.IsZero() {
		end = begin
	}
	return s.prices.GetPriceDataRange(ctx, symbol, begin, end)
}

// LatestPrice returns the most recent stored bar of symbol
func (s *BacktestService) LatestPrice(ctx context.Context, symbol string) (*models.PriceDataDaily, error) {
	return s.prices.GetLatestPriceData(ctx, symbol)
}
