package backtest

import (
	"time"

	"github.com/trogers1052/stock-backtester/internal/models"
)

// PendingOrderQueue holds orders waiting for their scheduled session.
// Orders due on the same date come out in insertion order.
type PendingOrderQueue struct {
	orders []models.PendingOrder
}

// Push appends an order to the back of the queue
func (q *PendingOrderQueue) Push(o models.PendingOrder) {
	q.orders = append(q.orders, o)
}

// PopDue removes and returns every order scheduled on date
func (q *PendingOrderQueue) PopDue(date time.Time) []models.PendingOrder {
	var due []models.PendingOrder
	kept := q.orders[:0]
	for _, o := range q.orders {
		if o.ScheduledDate.Equal(date) {
			due = append(due, o)
			continue
		}
		kept = append(kept, o)
	}
	// zero the vacated tail
	for i := len(kept); i < len(q.orders); i++ {
		q.orders[i] = models.PendingOrder{}
	}
	q.orders = kept
	return due
}

// Len returns the number of queued orders
func (q *PendingOrderQueue) Len() int {
	return len(q.orders)
}

// Orders returns a copy of the queue in insertion order
func (q *PendingOrderQueue) Orders() []models.PendingOrder {
	out := make([]models.PendingOrder, len(q.orders))
	copy(out, q.orders)
	return out
}
