package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/plan/domain"
	"github.com/recurhq/recur/pkg/db/option"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const planColumns = `id, code, name, billing_interval, amount, currency, trial_days, usage_type, active, version, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (`+planColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Code,
		plan.Name,
		plan.Interval,
		plan.Amount,
		plan.Currency,
		plan.TrialDays,
		plan.UsageType,
		plan.Active,
		plan.Version,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) InsertTiers(ctx context.Context, db *gorm.DB, tiers []domain.PlanTier) error {
	for i := range tiers {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO plan_tiers (id, plan_id, position, up_to, unit_amount, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			tiers[i].ID,
			tiers[i].PlanID,
			tiers[i].Position,
			tiers[i].UpTo,
			tiers[i].UnitAmount,
			tiers[i].CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM plans WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) FindTiers(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]domain.PlanTier, error) {
	var tiers []domain.PlanTier
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_id, position, up_to, unit_amount, created_at
		 FROM plan_tiers WHERE plan_id = ? ORDER BY position ASC`,
		planID,
	).Scan(&tiers).Error
	if err != nil {
		return nil, err
	}
	return tiers, nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE plans SET active = ?, updated_at = ? WHERE id = ? AND active = ?`,
		false,
		at,
		id,
		true,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListPlanFilter, page pagination.Pagination) ([]*domain.Plan, error) {
	var plans []*domain.Plan
	stmt := db.WithContext(ctx).Model(&domain.Plan{})
	if filter.Code != "" {
		stmt = stmt.Where("code = ?", filter.Code)
	}
	if filter.Interval != "" {
		stmt = stmt.Where("billing_interval = ?", filter.Interval)
	}
	if filter.Currency != "" {
		stmt = stmt.Where("currency = ?", filter.Currency)
	}
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}
