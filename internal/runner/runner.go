package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/stock-backtester/internal/backtest"
	"github.com/trogers1052/stock-backtester/internal/models"
	"github.com/yanun0323/logs"
)

// Strategy decides the orders of one session. It is called once per
// session with the agent positioned on that session.
type Strategy interface {
	OnBar(ctx context.Context, agent *backtest.Agent) error
}

// StrategyFunc adapts a function to Strategy
type StrategyFunc func(ctx context.Context, agent *backtest.Agent) error

// OnBar implements Strategy
func (f StrategyFunc) OnBar(ctx context.Context, agent *backtest.Agent) error {
	return f(ctx, agent)
}

// Observer is told about every trade and valuation as the run progresses
type Observer interface {
	OnTrade(ctx context.Context, trade models.TradeLogEntry) error
	OnNetWorth(ctx context.Context, point models.NetWorthPoint) error
}

// Runner drives a strategy through the whole calendar of an agent
type Runner struct {
	name      string
	agent     *backtest.Agent
	strategy  Strategy
	cashFlows []models.CashFlow
	observers []Observer

	sentTrades int
	sentPoints int
}

// Option configures a Runner
type Option func(*Runner)

// WithName labels the run in its report
func WithName(name string) Option {
	return func(r *Runner) {
		r.name = name
	}
}

// WithCashFlows schedules subscriptions and redemptions. A flow is applied
// right after the first session dated on or after it has been valued.
func WithCashFlows(flows []models.CashFlow) Option {
	return func(r *Runner) {
		r.cashFlows = append(r.cashFlows, flows...)
	}
}

// WithObserver registers an observer
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observers = append(r.observers, o)
	}
}

// New creates a Runner
func New(agent *backtest.Agent, strategy Strategy, opts ...Option) *Runner {
	r := &Runner{agent: agent, strategy: strategy}
	for _, opt := range opts {
		opt(r)
	}
	sort.SliceStable(r.cashFlows, func(i, j int) bool {
		return r.cashFlows[i].Date.Before(r.cashFlows[j].Date)
	})
	return r
}

// Run calls the strategy on every session and advances until the calendar
// is exhausted. Any other error aborts the run.
func (r *Runner) Run(ctx context.Context) (*models.RunReport, error) {
	portfolio := r.agent.Portfolio()
	if err := r.notify(ctx); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		session := portfolio.Cursor()
		if err := r.strategy.OnBar(ctx, r.agent); err != nil {
			return nil, fmt.Errorf("strategy failed on %s: %w", session.Format("2006-01-02"), err)
		}
		if err := r.notify(ctx); err != nil {
			return nil, err
		}

		err := r.agent.NextBar(ctx, r.dueCashFlows()...)
		if errors.Is(err, backtest.ErrEndOfCalendar) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to advance from %s: %w", session.Format("2006-01-02"), err)
		}
		if err := r.notify(ctx); err != nil {
			return nil, err
		}
	}

	if n := r.agent.Pending(); n > 0 {
		logs.Infof("run %s finished with %d orders still pending", r.name, n)
	}
	return r.report(), nil
}

// dueCashFlows pops the flows due before the next advance. Flows dated on
// or before the current session go in ahead of the next valuation, later
// ones up to the next session right after it.
func (r *Runner) dueCashFlows() []backtest.AdvanceHook {
	remaining := r.agent.Portfolio().Remaining()
	if len(remaining) < 2 {
		return nil
	}
	current, next := remaining[0], remaining[1]

	var hooks []backtest.AdvanceHook
	for len(r.cashFlows) > 0 && !r.cashFlows[0].Date.After(next) {
		flow := r.cashFlows[0]
		if flow.Date.After(current) {
			hooks = append(hooks, backtest.TransferAfter(flow.Amount))
		} else {
			hooks = append(hooks, backtest.TransferBefore(flow.Amount))
		}
		r.cashFlows = r.cashFlows[1:]
	}
	return hooks
}

func (r *Runner) notify(ctx context.Context) error {
	if len(r.observers) == 0 {
		return nil
	}
	portfolio := r.agent.Portfolio()

	trades := portfolio.TradeLog()
	for _, t := range trades[r.sentTrades:] {
		for _, o := range r.observers {
			if err := o.OnTrade(ctx, t); err != nil {
				return fmt.Errorf("failed to report trade: %w", err)
			}
		}
	}
	r.sentTrades = len(trades)

	curve := portfolio.NetWorthCurve()
	for _, p := range curve[r.sentPoints:] {
		for _, o := range r.observers {
			if err := o.OnNetWorth(ctx, p); err != nil {
				return fmt.Errorf("failed to report net worth: %w", err)
			}
		}
	}
	r.sentPoints = len(curve)
	return nil
}

func (r *Runner) report() *models.RunReport {
	portfolio := r.agent.Portfolio()
	curve := portfolio.NetWorthCurve()
	trades := portfolio.TradeLog()

	summary := Summarize(curve)
	summary.Name = r.name
	summary.TradeCount = len(trades)

	return &models.RunReport{
		Summary:       summary,
		NetWorthCurve: curve,
		Trades:        trades,
		Sections:      portfolio.SectionLog(),
	}
}

// Summarize computes the headline numbers of a net-worth curve
func Summarize(curve []models.NetWorthPoint) models.RunSummary {
	var s models.RunSummary
	if len(curve) == 0 {
		return s
	}
	first, last := curve[0], curve[len(curve)-1]

	s.Begin = first.TimeIndex
	s.End = last.TimeIndex
	s.InitialCash = first.TotalAsset
	s.FinalTotalAsset = last.TotalAsset
	s.FinalNetWorth = last.NetWorth
	s.Sessions = len(curve)
	if first.NetWorth.IsPositive() {
		s.TotalReturn = last.NetWorth.Div(first.NetWorth).Sub(decimal.NewFromInt(1))
	}

	peak := first.NetWorth
	for _, p := range curve {
		if p.NetWorth.GreaterThan(peak) {
			peak = p.NetWorth
		}
		if !peak.IsPositive() {
			continue
		}
		if dd := peak.Sub(p.NetWorth).Div(peak); dd.GreaterThan(s.MaxDrawdown) {
			s.MaxDrawdown = dd
		}
	}
	s.CreatedAt = time.Now()
	return s
}
