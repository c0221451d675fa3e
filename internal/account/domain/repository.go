package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Account, error)
	Update(ctx context.Context, db *gorm.DB, account *Account) error
	// UpdateStatus flips status with a compare-and-set on the current value.
	// Returns the number of rows changed.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, at time.Time) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListAccountFilter, page pagination.Pagination) ([]*Account, error)
}
