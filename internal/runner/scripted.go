package runner

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/stock-backtester/internal/backtest"
	"github.com/trogers1052/stock-backtester/internal/marketdata"
	"github.com/trogers1052/stock-backtester/internal/models"
)

// Scripted replays order signals decided ahead of time. Each signal fires on
// the session matching its date, in the order given.
type Scripted struct {
	signals    []models.OrderSignal
	commission decimal.NullDecimal
	fired      int
}

// NewScripted creates a strategy over signals. A valid commission overrides
// the agent default for every order.
func NewScripted(signals []models.OrderSignal, commission decimal.NullDecimal) (*Scripted, error) {
	out := make([]models.OrderSignal, len(signals))
	for i, s := range signals {
		if s.PriceField != "" {
			if _, err := marketdata.ParseField(s.PriceField); err != nil {
				return nil, fmt.Errorf("%w: signal %d: %v", backtest.ErrValidation, i, err)
			}
		}
		s.Date = marketdata.Day(s.Date)
		out[i] = s
	}
	return &Scripted{signals: out, commission: commission}, nil
}

// OnBar implements Strategy
func (s *Scripted) OnBar(ctx context.Context, agent *backtest.Agent) error {
	session := agent.Portfolio().Cursor()
	for _, sig := range s.signals {
		if !sig.Date.Equal(session) {
			continue
		}
		if err := agent.MarketOrder(ctx, sig.Entity, sig.Volume, s.orderOptions(sig)...); err != nil {
			return fmt.Errorf("order %s %s: %w", sig.Entity, sig.Volume, err)
		}
		s.fired++
	}
	return nil
}

// Fired returns how many signals have been submitted so far
func (s *Scripted) Fired() int {
	return s.fired
}

// orderOptions maps a signal to order options. A signal without a price
// field and delta keeps the agent default of the next session's open.
func (s *Scripted) orderOptions(sig models.OrderSignal) []backtest.OrderOption {
	var opts []backtest.OrderOption
	if sig.PriceField != "" || sig.Delta != 0 {
		field := marketdata.FieldOpen
		if sig.PriceField != "" {
			field = marketdata.Field(sig.PriceField)
		}
		opts = append(opts, backtest.At(sig.Delta, field))
	}
	if s.commission.Valid {
		opts = append(opts, backtest.WithCommission(s.commission.Decimal))
	}
	return opts
}
