package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/stock-backtester/internal/marketdata"
	"github.com/trogers1052/stock-backtester/internal/models"
)

// Portfolio is the book of a single backtest run: cash, open positions and
// the append-only valuation, trade and section logs. It moves through the
// calendar one session per Advance and is not safe for concurrent use.
type Portfolio struct {
	provider marketdata.Provider

	cash      decimal.Decimal
	unitShare decimal.Decimal

	positions map[string]*models.Position
	entities  []string // open positions in first-trade order

	cursor     time.Time
	remaining  []time.Time // remaining[0] is the cursor
	started    bool
	terminated bool

	netWorthCurve []models.NetWorthPoint
	tradeLog      []models.TradeLogEntry
	sectionLog    []models.AssetSectionLogEntry
}

// NewPortfolio opens a book with initialCash over the given calendar and
// values the first session, so a net-worth point exists before any order.
func NewPortfolio(ctx context.Context, provider marketdata.Provider, initialCash decimal.Decimal, calendar []time.Time) (*Portfolio, error) {
	if !initialCash.IsPositive() {
		return nil, fmt.Errorf("%w: initial cash must be positive, got %s", ErrValidation, initialCash)
	}
	if len(calendar) == 0 {
		return nil, fmt.Errorf("%w: empty calendar", ErrEndOfCalendar)
	}

	remaining := make([]time.Time, len(calendar))
	for i, d := range calendar {
		remaining[i] = marketdata.Day(d)
	}

	p := &Portfolio{
		provider:  provider,
		cash:      initialCash,
		unitShare: initialCash,
		positions: make(map[string]*models.Position),
		cursor:    remaining[0],
		remaining: remaining,
	}
	if err := p.Advance(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// AdvanceHook runs at the boundary of an Advance call. Cash transfers are
// only available this way so the unit-share basis never moves mid-session.
type AdvanceHook struct {
	after bool
	apply func(p *Portfolio) error
}

// TransferBefore moves amount into (or out of, when negative) the book
// right before the next session is valued.
func TransferBefore(amount decimal.Decimal) AdvanceHook {
	return AdvanceHook{apply: func(p *Portfolio) error { return p.transferCash(amount) }}
}

// TransferAfter moves amount into (or out of) the book right after the new
// session has been valued.
func TransferAfter(amount decimal.Decimal) AdvanceHook {
	return AdvanceHook{after: true, apply: func(p *Portfolio) error { return p.transferCash(amount) }}
}

// transferCash issues or redeems units at the current net worth, leaving the
// net worth itself unchanged.
func (p *Portfolio) transferCash(amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	nw := p.NetWorth()
	if !nw.IsPositive() {
		return fmt.Errorf("%w: cannot transfer cash at net worth %s", ErrValidation, nw)
	}
	p.unitShare = p.unitShare.Add(amount.Div(nw))
	p.cash = p.cash.Add(amount)
	return nil
}

// PlaceOrder books an executed order. One of cost and price may be left
// invalid and is derived from the other. An existing position accumulates
// cost and volume and takes the new price and time index.
func (p *Portfolio) PlaceOrder(entity string, volume decimal.Decimal, cost, price decimal.NullDecimal) (models.Position, error) {
	if p.terminated {
		return models.Position{}, ErrEndOfCalendar
	}
	if entity == "" {
		return models.Position{}, fmt.Errorf("%w: entity is required", ErrValidation)
	}
	if !cost.Valid && !price.Valid {
		return models.Position{}, fmt.Errorf("%w: at least one of cost and price is required", ErrValidation)
	}

	c, px := cost.Decimal, price.Decimal
	switch {
	case !price.Valid:
		if volume.IsZero() {
			return models.Position{}, fmt.Errorf("%w: cannot derive price of %s from zero volume", ErrValidation, entity)
		}
		px = c.Div(volume)
	case !cost.Valid:
		c = px.Mul(volume)
	}

	pos, ok := p.positions[entity]
	if ok {
		pos.Cost = pos.Cost.Add(c)
		pos.Volume = pos.Volume.Add(volume)
		pos.Price = px
		pos.TimeIndex = p.cursor
	} else {
		pos = &models.Position{Entity: entity, Cost: c, Volume: volume, Price: px, TimeIndex: p.cursor}
		p.positions[entity] = pos
		p.entities = append(p.entities, entity)
	}

	p.cash = p.cash.Sub(c)
	p.tradeLog = append(p.tradeLog, models.TradeLogEntry{
		TimeIndex: p.cursor,
		Entity:    entity,
		Cost:      c,
		Volume:    volume,
		Price:     px,
		CashAfter: p.cash,
	})
	return *pos, nil
}

// Advance values a session and appends its net-worth point and section
// snapshot. The first call (made by NewPortfolio) values the opening
// session in place; every later call leaves the current session first.
// When no session is left it returns ErrEndOfCalendar, appends nothing
// and the portfolio becomes terminated. An error from an after hook is
// returned with the new session already committed.
func (p *Portfolio) Advance(ctx context.Context, hooks ...AdvanceHook) error {
	if p.terminated {
		return ErrEndOfCalendar
	}

	next := p.remaining
	if p.started {
		if len(p.remaining) <= 1 {
			p.terminated = true
			return fmt.Errorf("%w: last session was %s", ErrEndOfCalendar, p.cursor.Format("2006-01-02"))
		}
		next = p.remaining[1:]
	}

	session := next[0]
	prices, err := p.closingPrices(ctx, session)
	if err != nil {
		return err
	}

	for _, h := range hooks {
		if !h.after {
			if err := h.apply(p); err != nil {
				return err
			}
		}
	}

	p.remaining = next
	p.cursor = session
	p.started = true

	total := p.cash
	for _, entity := range p.entities {
		pos := p.positions[entity]
		pos.Price = prices[entity]
		pos.TimeIndex = session
		total = total.Add(pos.Worth())
	}
	p.netWorthCurve = append(p.netWorthCurve, models.NetWorthPoint{
		TimeIndex:  session,
		TotalAsset: total,
		UnitShare:  p.unitShare,
		NetWorth:   total.Div(p.unitShare),
	})

	p.dropClosed()
	p.sectionLog = append(p.sectionLog, models.AssetSectionLogEntry{
		TimeIndex: session,
		Positions: p.Positions(),
	})

	for _, h := range hooks {
		if h.after {
			if err := h.apply(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// closingPrices fetches the close of every open position on session before
// anything is mutated, so a data gap leaves the book untouched.
func (p *Portfolio) closingPrices(ctx context.Context, session time.Time) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(p.entities))
	for _, entity := range p.entities {
		px, err := priceAt(ctx, p.provider, entity, session, marketdata.FieldClose)
		if err != nil {
			return nil, err
		}
		prices[entity] = px
	}
	return prices, nil
}

func (p *Portfolio) dropClosed() {
	open := p.entities[:0]
	for _, entity := range p.entities {
		if p.positions[entity].IsClosed() {
			delete(p.positions, entity)
			continue
		}
		open = append(open, entity)
	}
	p.entities = open
}

func priceAt(ctx context.Context, provider marketdata.Provider, entity string, date time.Time, field marketdata.Field) (decimal.Decimal, error) {
	rows, err := provider.QueryData(ctx, []marketdata.Field{field}, date, date, entity)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query %s %s on %s: %w", entity, field, date.Format("2006-01-02"), err)
	}
	for _, r := range rows {
		if r.Entity != entity || !r.Date.Equal(date) {
			continue
		}
		if v, ok := r.Value(field); ok {
			return v, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: no %s for %s on %s", ErrDataUnavailable, field, entity, date.Format("2006-01-02"))
}

// Cash returns the cash balance
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// UnitShare returns the number of outstanding units
func (p *Portfolio) UnitShare() decimal.Decimal { return p.unitShare }

// Cursor returns the session being processed
func (p *Portfolio) Cursor() time.Time { return p.cursor }

// Terminated reports whether the calendar has been exhausted
func (p *Portfolio) Terminated() bool { return p.terminated }

// Remaining returns the sessions left, starting with the cursor
func (p *Portfolio) Remaining() []time.Time {
	out := make([]time.Time, len(p.remaining))
	copy(out, p.remaining)
	return out
}

// Position returns the open position in entity, if any
func (p *Portfolio) Position(entity string) (models.Position, bool) {
	pos, ok := p.positions[entity]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// Positions returns a copy of every open position in first-trade order
func (p *Portfolio) Positions() []models.Position {
	out := make([]models.Position, 0, len(p.entities))
	for _, entity := range p.entities {
		out = append(out, *p.positions[entity])
	}
	return out
}

// TotalAsset returns cash plus every position at its last known price
func (p *Portfolio) TotalAsset() decimal.Decimal {
	total := p.cash
	for _, entity := range p.entities {
		total = total.Add(p.positions[entity].Worth())
	}
	return total
}

// NetWorth returns the net worth of the latest valuation
func (p *Portfolio) NetWorth() decimal.Decimal {
	if len(p.netWorthCurve) == 0 {
		return decimal.Zero
	}
	return p.netWorthCurve[len(p.netWorthCurve)-1].NetWorth
}

// NetWorthCurve returns a copy of the valuation history
func (p *Portfolio) NetWorthCurve() []models.NetWorthPoint {
	out := make([]models.NetWorthPoint, len(p.netWorthCurve))
	copy(out, p.netWorthCurve)
	return out
}

// TradeLog returns a copy of the executed orders
func (p *Portfolio) TradeLog() []models.TradeLogEntry {
	out := make([]models.TradeLogEntry, len(p.tradeLog))
	copy(out, p.tradeLog)
	return out
}

// SectionLog returns a copy of the per-session position snapshots
func (p *Portfolio) SectionLog() []models.AssetSectionLogEntry {
	out := make([]models.AssetSectionLogEntry, len(p.sectionLog))
	copy(out, p.sectionLog)
	return out
}
