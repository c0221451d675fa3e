package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)

	// UpdateLifecycle rewrites every mutable column from the struct. Callers
	// load the row under lock, mutate, then persist through this.
	UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *Subscription) error

	// AdvancePeriod moves the billing window forward only if the stored
	// period still matches the expected start, so a replayed sweep cannot
	// advance twice. Returns rows affected.
	AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedStart, newStart, newEnd time.Time, at time.Time) (int64, error)

	InsertHistory(ctx context.Context, db *gorm.DB, row *SubscriptionHistory) error
	ListHistory(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, page pagination.Pagination) ([]*SubscriptionHistory, error)

	List(ctx context.Context, db *gorm.DB, filter ListSubscriptionFilter, page pagination.Pagination) ([]*Subscription, error)
	CountByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, statuses []Status) (int64, error)
}
