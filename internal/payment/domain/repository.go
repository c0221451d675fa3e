package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when the idempotency key already has a row.
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*Payment, error)
	FindPendingByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*Payment, error)
	// ClaimDue locks due rows (initial attempts and scheduled retries,
	// skipping those awaiting a callback) and pushes next_retry_at forward
	// by lease so a crashed attempt comes due again on its own.
	ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, lease time.Duration, limit int) ([]*Payment, error)
	Update(ctx context.Context, db *gorm.DB, payment *Payment) error
	// CancelOpen freezes unresolved attempts for an invoice. Rows awaiting
	// a callback keep their status; the outcome is the processor's to
	// report.
	CancelOpen(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, at time.Time) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListPaymentFilter, page pagination.Pagination) ([]*Payment, error)
}
