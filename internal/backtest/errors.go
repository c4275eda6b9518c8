package backtest

import "errors"

var (
	// ErrValidation marks an order the caller built wrongly
	ErrValidation = errors.New("invalid order")
	// ErrLookahead marks an order or query needing data from a session
	// that has not happened yet. It is never downgraded or corrected.
	ErrLookahead = errors.New("look-ahead detected")
	// ErrEndOfCalendar is the normal end of a run: the calendar has no
	// more sessions and the driver must stop.
	ErrEndOfCalendar = errors.New("end of trading calendar")
	// ErrDataUnavailable marks a missing price row for a (date, entity)
	ErrDataUnavailable = errors.New("market data unavailable")
)
