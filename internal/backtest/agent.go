package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/stock-backtester/internal/marketdata"
	"github.com/trogers1052/stock-backtester/internal/models"
)

var (
	// DefaultCommission is the proportional fee charged on both sides
	DefaultCommission = decimal.RequireFromString("0.003")
	// DefaultSlippage is the extra haircut charged on sells only
	DefaultSlippage = decimal.RequireFromString("0.001")
)

// Agent turns trading intents into fills against a Portfolio. It owns the
// queue of deferred orders and refuses anything that would need data from
// a session after the cursor.
type Agent struct {
	portfolio *Portfolio
	provider  marketdata.Provider
	queue     PendingOrderQueue
	slippage  decimal.Decimal
}

// AgentOption configures an Agent
type AgentOption func(*Agent)

// WithSlippage overrides the sell-side slippage haircut
func WithSlippage(rate decimal.Decimal) AgentOption {
	return func(a *Agent) {
		a.slippage = rate
	}
}

// NewAgent opens a portfolio over calendar and wraps it
func NewAgent(ctx context.Context, provider marketdata.Provider, initialCash decimal.Decimal, calendar []time.Time, opts ...AgentOption) (*Agent, error) {
	portfolio, err := NewPortfolio(ctx, provider, initialCash, calendar)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		portfolio: portfolio,
		provider:  provider,
		slippage:  DefaultSlippage,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Portfolio returns the wrapped book
func (a *Agent) Portfolio() *Portfolio {
	return a.portfolio
}

// Pending returns how many deferred orders are waiting. The orders
// themselves stay private: their cost embeds a future price.
func (a *Agent) Pending() int {
	return a.queue.Len()
}

type orderConfig struct {
	delta      int
	field      marketdata.Field
	commission decimal.Decimal
}

// OrderOption configures a single market order
type OrderOption func(*orderConfig)

// At selects the fill session, delta sessions after the cursor, and the
// price column sampled there. The default is the next session's open.
func At(delta int, field marketdata.Field) OrderOption {
	return func(c *orderConfig) {
		c.delta = delta
		c.field = field
	}
}

// WithCommission overrides the commission rate of one order
func WithCommission(rate decimal.Decimal) OrderOption {
	return func(c *orderConfig) {
		c.commission = rate
	}
}

// MarketOrder submits an order for volume units of entity. A same-session
// close fill executes now; everything else waits in the queue for its
// session. It returns nothing but an error so a caller never sees the
// price of a session that has not happened yet.
func (a *Agent) MarketOrder(ctx context.Context, entity string, volume decimal.Decimal, opts ...OrderOption) error {
	if a.portfolio.Terminated() {
		return ErrEndOfCalendar
	}

	cfg := orderConfig{delta: 1, field: marketdata.FieldOpen, commission: DefaultCommission}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := checkLookahead(cfg.delta, cfg.field); err != nil {
		return err
	}
	if volume.IsZero() {
		return fmt.Errorf("%w: meaningless order, volume = 0 for %s", ErrValidation, entity)
	}

	remaining := a.portfolio.Remaining()
	if cfg.delta >= len(remaining) {
		return fmt.Errorf("%w: %d sessions after %s is past the end of the calendar",
			ErrValidation, cfg.delta, a.portfolio.Cursor().Format("2006-01-02"))
	}
	session := remaining[cfg.delta]

	price, err := priceAt(ctx, a.provider, entity, session, cfg.field)
	if err != nil {
		return err
	}
	cost := volume.Mul(price).Mul(a.multiplier(volume, cfg.commission))

	if cfg.delta == 0 && cfg.field == marketdata.FieldClose {
		_, err := a.portfolio.PlaceOrder(entity, volume, decimal.NewNullDecimal(cost), decimal.NullDecimal{})
		return err
	}

	a.queue.Push(models.PendingOrder{
		ScheduledDate: session,
		Entity:        entity,
		Cost:          cost,
		Volume:        volume,
	})
	return nil
}

// checkLookahead rejects fills priced before the decision point: any past
// session, or any column other than the close of the current one.
func checkLookahead(delta int, field marketdata.Field) error {
	if delta < 0 {
		return fmt.Errorf("%w: order priced %d sessions in the past", ErrLookahead, -delta)
	}
	if delta == 0 && field != marketdata.FieldClose {
		return fmt.Errorf("%w: same-session fill must use %s, got %s", ErrLookahead, marketdata.FieldClose, field)
	}
	return nil
}

// multiplier is 1 + commission for buys and 1 - commission - slippage for sells
func (a *Agent) multiplier(volume, commission decimal.Decimal) decimal.Decimal {
	if volume.IsPositive() {
		return decimal.NewFromInt(1).Add(commission)
	}
	return decimal.NewFromInt(1).Sub(commission).Sub(a.slippage)
}

// NextBar advances the portfolio and then executes, in submission order,
// every deferred order scheduled for the new session.
//
// If an after hook fails once the session has been committed, the due
// orders still execute and the hook error is returned afterwards.
func (a *Agent) NextBar(ctx context.Context, hooks ...AdvanceHook) error {
	from := a.portfolio.Cursor()
	advanceErr := a.portfolio.Advance(ctx, hooks...)
	if advanceErr != nil && a.portfolio.Cursor().Equal(from) {
		return advanceErr
	}

	for _, o := range a.queue.PopDue(a.portfolio.Cursor()) {
		if _, err := a.portfolio.PlaceOrder(o.Entity, o.Volume, decimal.NewNullDecimal(o.Cost), decimal.NullDecimal{}); err != nil {
			return errors.Join(advanceErr, fmt.Errorf("failed to execute order for %s scheduled on %s: %w",
				o.Entity, o.ScheduledDate.Format("2006-01-02"), err))
		}
	}
	return advanceErr
}

// RegulateDataQuery forwards a historical query to the provider after
// checking that it ends no later than the cursor. A zero end means a
// single-day query on begin.
func (a *Agent) RegulateDataQuery(ctx context.Context, columns []marketdata.Field, begin, end time.Time, entity string) ([]marketdata.Row, error) {
	if a.portfolio.Terminated() {
		return nil, ErrEndOfCalendar
	}

	last := end
	if last.IsZero() {
		last = begin
	}
	if marketdata.Day(last).After(a.portfolio.Cursor()) {
		return nil, fmt.Errorf("%w: query up to %s while the cursor is at %s", ErrLookahead,
			marketdata.Day(last).Format("2006-01-02"), a.portfolio.Cursor().Format("2006-01-02"))
	}
	return a.provider.QueryData(ctx, columns, begin, end, entity)
}
