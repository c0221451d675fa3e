package domain

import (
	"context"
	"time"
)

// Service walks overdue invoices through the reminder, warning and
// service_blocked ladder, escalating account standing as the debt ages.
// The reverse path (payment clears, account returns to active) belongs to
// the payment service.
type Service interface {
	// Sweep claims overdue invoices and emits whichever dunning notice
	// their age calls for, at most once per level per invoice. Returns the
	// number of notices sent.
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}
