package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	InsertTiers(ctx context.Context, db *gorm.DB, tiers []PlanTier) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindTiers(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]PlanTier, error)
	// Deactivate flips active to false only when it is currently true and
	// reports the number of rows changed.
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListPlanFilter, page pagination.Pagination) ([]*Plan, error)
}
