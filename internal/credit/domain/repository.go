package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, credit *Credit) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Credit, error)

	// FindAvailableForUpdate loads unapplied, unexpired credits for the
	// account and currency, oldest first, locked for the caller's
	// transaction. Concurrent applications against one account serialize
	// here.
	FindAvailableForUpdate(ctx context.Context, db *gorm.DB, accountID snowflake.ID, currency string, now time.Time) ([]*Credit, error)

	// ApplyFull stamps the credit as consumed by the invoice. Guarded on
	// the row still being unapplied; returns rows affected.
	ApplyFull(ctx context.Context, db *gorm.DB, id, invoiceID snowflake.ID, at time.Time) (int64, error)

	// ApplySplit shrinks the row to the consumed amount and stamps it.
	// Same guard as ApplyFull; the caller inserts the remainder row.
	ApplySplit(ctx context.Context, db *gorm.DB, id snowflake.ID, consumed int64, invoiceID snowflake.ID, at time.Time) (int64, error)

	SumAvailable(ctx context.Context, db *gorm.DB, accountID snowflake.ID, currency string, now time.Time) (int64, error)

	List(ctx context.Context, db *gorm.DB, filter ListCreditFilter, page pagination.Pagination) ([]*Credit, error)
}
