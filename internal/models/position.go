package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents the cumulative holding of one entity in a backtest run.
// Cost is the cumulative cost basis; Volume is signed (negative = short).
type Position struct {
	Entity    string          `json:"entity"`
	Cost      decimal.Decimal `json:"cost"`
	Volume    decimal.Decimal `json:"volume"`
	Price     decimal.Decimal `json:"price"`
	TimeIndex time.Time       `json:"time_index"`
}

// Worth returns volume * price at the last valuation.
func (p Position) Worth() decimal.Decimal {
	return p.Volume.Mul(p.Price)
}

// IsClosed reports whether the position holds no volume.
func (p Position) IsClosed() bool {
	return p.Volume.IsZero()
}

// AssetSectionLogEntry is the snapshot of every open position at one session
type AssetSectionLogEntry struct {
	TimeIndex time.Time  `json:"time_index"`
	Positions []Position `json:"positions"`
}

// PendingOrder is an order scheduled to execute on a future session
type PendingOrder struct {
	ScheduledDate time.Time       `json:"scheduled_date"`
	Entity        string          `json:"entity"`
	Cost          decimal.Decimal `json:"cost"`
	Volume        decimal.Decimal `json:"volume"`
}
