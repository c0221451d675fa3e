package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/credit/domain"
	"github.com/recurhq/recur/pkg/db/option"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const creditColumns = `id, account_id, amount, currency, reason, origin_credit_id, expires_at, applied_to_invoice_id, applied_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, credit *domain.Credit) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credits (`+creditColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		credit.ID,
		credit.AccountID,
		credit.Amount,
		credit.Currency,
		credit.Reason,
		credit.OriginCreditID,
		credit.ExpiresAt,
		credit.AppliedToInvoiceID,
		credit.AppliedAt,
		credit.CreatedAt,
		credit.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Credit, error) {
	var credit domain.Credit
	err := db.WithContext(ctx).Raw(
		`SELECT `+creditColumns+` FROM credits WHERE id = ?`,
		id,
	).Scan(&credit).Error
	if err != nil {
		return nil, err
	}
	if credit.ID == 0 {
		return nil, nil
	}
	return &credit, nil
}

func (r *repo) FindAvailableForUpdate(ctx context.Context, db *gorm.DB, accountID snowflake.ID, currency string, now time.Time) ([]*domain.Credit, error) {
	var credits []*domain.Credit
	err := db.WithContext(ctx).Raw(
		`SELECT `+creditColumns+` FROM credits
		 WHERE account_id = ? AND currency = ?
		   AND applied_to_invoice_id IS NULL
		   AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY created_at ASC, id ASC
		 FOR UPDATE`,
		accountID,
		currency,
		now,
	).Scan(&credits).Error
	if err != nil {
		return nil, err
	}
	return credits, nil
}

func (r *repo) ApplyFull(ctx context.Context, db *gorm.DB, id, invoiceID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE credits
		 SET applied_to_invoice_id = ?, applied_at = ?, updated_at = ?
		 WHERE id = ? AND applied_to_invoice_id IS NULL`,
		invoiceID,
		at,
		at,
		id,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) ApplySplit(ctx context.Context, db *gorm.DB, id snowflake.ID, consumed int64, invoiceID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE credits
		 SET amount = ?, applied_to_invoice_id = ?, applied_at = ?, updated_at = ?
		 WHERE id = ? AND applied_to_invoice_id IS NULL`,
		consumed,
		invoiceID,
		at,
		at,
		id,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) SumAvailable(ctx context.Context, db *gorm.DB, accountID snowflake.ID, currency string, now time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM credits
		 WHERE account_id = ? AND currency = ?
		   AND applied_to_invoice_id IS NULL
		   AND (expires_at IS NULL OR expires_at > ?)`,
		accountID,
		currency,
		now,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListCreditFilter, page pagination.Pagination) ([]*domain.Credit, error) {
	var credits []*domain.Credit
	stmt := db.WithContext(ctx).Model(&domain.Credit{})
	if filter.AccountID != 0 {
		stmt = stmt.Where("account_id = ?", filter.AccountID)
	}
	switch filter.State {
	case domain.StateAvailable:
		stmt = stmt.Where("applied_to_invoice_id IS NULL AND (expires_at IS NULL OR expires_at > ?)", filter.Now)
	case domain.StateApplied:
		stmt = stmt.Where("applied_to_invoice_id IS NOT NULL")
	case domain.StateExpired:
		stmt = stmt.Where("applied_to_invoice_id IS NULL AND expires_at IS NOT NULL AND expires_at <= ?", filter.Now)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&credits).Error
	if err != nil {
		return nil, err
	}
	return credits, nil
}
