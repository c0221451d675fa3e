package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/recurhq/recur/internal/invoice/domain"
	"github.com/recurhq/recur/internal/usage/domain"
	"github.com/recurhq/recur/pkg/db/option"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const usageColumns = `id, subscription_id, metric, quantity, recorded_at, idempotency_key,
	 received_at, status, invoice_id, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.UsageRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (`+usageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		record.ID,
		record.SubscriptionID,
		record.Metric,
		record.Quantity,
		record.RecordedAt,
		record.IdempotencyKey,
		record.ReceivedAt,
		record.Status,
		record.InvoiceID,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.UsageRecord, error) {
	var record domain.UsageRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+usageColumns+` FROM usage_records WHERE id = ?`,
		id,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, idempotencyKey string) (*domain.UsageRecord, error) {
	var record domain.UsageRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+usageColumns+` FROM usage_records WHERE idempotency_key = ?`,
		idempotencyKey,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) SumForPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, metric string, from, to time.Time) ([]domain.MetricTotal, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Select("metric, COALESCE(SUM(quantity), 0) AS quantity").
		Where("subscription_id = ?", subscriptionID).
		Where("recorded_at >= ? AND recorded_at < ?", from, to).
		Where("status <> ?", domain.RecordStatusDropped)
	if metric != "" {
		stmt = stmt.Where("metric = ?", metric)
	}
	var totals []domain.MetricTotal
	err := stmt.
		Group("metric").
		Order("metric asc").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}

func (r *repo) SumBilledForPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, from, to time.Time) ([]domain.MetricTotal, error) {
	var totals []domain.MetricTotal
	err := db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Select("metric, COALESCE(SUM(quantity), 0) AS quantity").
		Where("subscription_id = ?", subscriptionID).
		Where("status = ?", domain.RecordStatusBilled).
		Where("recorded_at >= ? AND recorded_at < ?", from, to).
		Group("metric").
		Order("metric asc").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}

func (r *repo) MarkBilledWindow(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, from, to time.Time, invoiceID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE usage_records SET status = ?, invoice_id = ?, updated_at = ?
		 WHERE subscription_id = ? AND recorded_at >= ? AND recorded_at < ? AND status = ?`,
		domain.RecordStatusBilled,
		invoiceID,
		at,
		subscriptionID,
		from,
		to,
		domain.RecordStatusPending,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) MarkBilled(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE usage_records SET status = ?, invoice_id = ?, updated_at = ?
		 WHERE id IN ? AND status = ?`,
		domain.RecordStatusBilled,
		invoiceID,
		at,
		ids,
		domain.RecordStatusPending,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) MarkDropped(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE usage_records SET status = ?, updated_at = ?
		 WHERE id IN ? AND status = ?`,
		domain.RecordStatusDropped,
		at,
		ids,
		domain.RecordStatusPending,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) FindLateArrivals(ctx context.Context, db *gorm.DB, limit int) ([]domain.LateArrival, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []domain.LateArrival
	err := db.WithContext(ctx).Raw(
		`SELECT u.id AS record_id, u.subscription_id, u.metric, u.quantity, u.recorded_at, u.received_at,
		        i.id AS invoice_id, i.period_start, i.period_end
		 FROM usage_records u
		 JOIN invoices i ON i.subscription_id = u.subscription_id
		   AND i.origin = ?
		   AND u.recorded_at >= i.period_start
		   AND u.recorded_at < i.period_end
		 WHERE u.status = ? AND u.received_at > i.period_end
		 ORDER BY u.received_at ASC, u.id ASC
		 LIMIT ?`,
		invoicedomain.OriginCycle,
		domain.RecordStatusPending,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListUsageFilter, page pagination.Pagination) ([]*domain.UsageRecord, error) {
	var records []*domain.UsageRecord
	stmt := db.WithContext(ctx).Model(&domain.UsageRecord{})
	if filter.SubscriptionID != 0 {
		stmt = stmt.Where("subscription_id = ?", filter.SubscriptionID)
	}
	if filter.Metric != "" {
		stmt = stmt.Where("metric = ?", filter.Metric)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
