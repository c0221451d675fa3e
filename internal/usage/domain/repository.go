package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert writes the record unless another row already holds its
	// idempotency key. Reports whether a row was actually inserted.
	Insert(ctx context.Context, db *gorm.DB, record *UsageRecord) (bool, error)

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UsageRecord, error)
	FindByKey(ctx context.Context, db *gorm.DB, idempotencyKey string) (*UsageRecord, error)

	// SumForPeriod groups quantity by metric over recorded_at in [from, to).
	// Metric narrows to a single metric when non-empty. Dropped rows never
	// count.
	SumForPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, metric string, from, to time.Time) ([]MetricTotal, error)

	// SumBilledForPeriod groups the quantity already billed for events in
	// [from, to), regardless of which invoice collected them. This is the
	// baseline for marginal late-usage pricing.
	SumBilledForPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, from, to time.Time) ([]MetricTotal, error)

	// MarkBilledWindow flips pending rows in [from, to) to billed and stamps
	// the invoice. Returns rows affected.
	MarkBilledWindow(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, from, to time.Time, invoiceID snowflake.ID, at time.Time) (int64, error)

	MarkBilled(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID, at time.Time) (int64, error)
	MarkDropped(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) (int64, error)

	// FindLateArrivals returns pending rows whose event time falls inside an
	// already-invoiced cycle period but which arrived after that period
	// closed, oldest first.
	FindLateArrivals(ctx context.Context, db *gorm.DB, limit int) ([]LateArrival, error)

	List(ctx context.Context, db *gorm.DB, filter ListUsageFilter, page pagination.Pagination) ([]*UsageRecord, error)
}
