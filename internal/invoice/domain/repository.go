package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertLineItems(ctx context.Context, db *gorm.DB, items []LineItem) error

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	ListLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]LineItem, error)

	// FindCycleForPeriod is the duplicate-period probe: the non-void cycle
	// invoice covering periodStart, if one exists.
	FindCycleForPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*Invoice, error)

	// NextNumber increments and returns the cluster-wide invoice counter.
	// The counter row stays locked until the caller's transaction ends.
	NextNumber(ctx context.Context, db *gorm.DB) (int64, error)

	// UpdateAmounts rewrites the mutable money and lifecycle columns from
	// the struct. Callers load the row under lock first.
	UpdateAmounts(ctx context.Context, db *gorm.DB, invoice *Invoice) error

	ClaimOverdue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*Invoice, error)
	ClaimDunnable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*Invoice, error)
	HasOverdueForAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) (bool, error)

	List(ctx context.Context, db *gorm.DB, filter ListInvoiceFilter, page pagination.Pagination) ([]*Invoice, error)
}
