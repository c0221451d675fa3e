package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/subscription/domain"
	"github.com/recurhq/recur/pkg/db/option"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const subscriptionColumns = `id, account_id, plan_id, status, quantity, current_period_start, current_period_end,
	 cancel_at_period_end, cancelled_at, trial_end, paused_at, pause_resumes_at,
	 pending_plan_id, pending_quantity, metadata, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.AccountID,
		subscription.PlanID,
		subscription.Status,
		subscription.Quantity,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.CancelAtPeriodEnd,
		subscription.CancelledAt,
		subscription.TrialEnd,
		subscription.PausedAt,
		subscription.PauseResumesAt,
		subscription.PendingPlanID,
		subscription.PendingQuantity,
		subscription.Metadata,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`,
		id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET
			plan_id = ?,
			status = ?,
			quantity = ?,
			current_period_start = ?,
			current_period_end = ?,
			cancel_at_period_end = ?,
			cancelled_at = ?,
			trial_end = ?,
			paused_at = ?,
			pause_resumes_at = ?,
			pending_plan_id = ?,
			pending_quantity = ?,
			updated_at = ?
		 WHERE id = ?`,
		subscription.PlanID,
		subscription.Status,
		subscription.Quantity,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.CancelAtPeriodEnd,
		subscription.CancelledAt,
		subscription.TrialEnd,
		subscription.PausedAt,
		subscription.PauseResumesAt,
		subscription.PendingPlanID,
		subscription.PendingQuantity,
		subscription.UpdatedAt,
		subscription.ID,
	).Error
}

func (r *repo) AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedStart, newStart, newEnd time.Time, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET current_period_start = ?, current_period_end = ?, updated_at = ?
		 WHERE id = ? AND current_period_start = ?`,
		newStart,
		newEnd,
		at,
		id,
		expectedStart,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) InsertHistory(ctx context.Context, db *gorm.DB, row *domain.SubscriptionHistory) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscription_history (id, subscription_id, event_type, old_value, new_value, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID,
		row.SubscriptionID,
		row.EventType,
		row.OldValue,
		row.NewValue,
		row.Reason,
		row.CreatedAt,
	).Error
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, page pagination.Pagination) ([]*domain.SubscriptionHistory, error) {
	var rows []*domain.SubscriptionHistory
	stmt := db.WithContext(ctx).
		Model(&domain.SubscriptionHistory{}).
		Where("subscription_id = ?", subscriptionID)
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListSubscriptionFilter, page pagination.Pagination) ([]*domain.Subscription, error) {
	var subscriptions []*domain.Subscription
	stmt := db.WithContext(ctx).Model(&domain.Subscription{})
	if filter.AccountID != 0 {
		stmt = stmt.Where("account_id = ?", filter.AccountID)
	}
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) CountByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, statuses []domain.Status) (int64, error) {
	var count int64
	stmt := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("account_id = ?", accountID)
	if len(statuses) > 0 {
		stmt = stmt.Where("status IN ?", statuses)
	}
	if err := stmt.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
