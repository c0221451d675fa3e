package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/account/domain"
	"github.com/recurhq/recur/pkg/db/option"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const accountColumns = `id, name, email, currency, timezone, status, tax_exempt, tax_id, vat_id, metadata, created_at, updated_at, deleted_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO accounts (id, name, email, currency, timezone, status, tax_exempt, tax_id, vat_id, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.Name,
		account.Email,
		account.Currency,
		account.Timezone,
		account.Status,
		account.TaxExempt,
		account.TaxID,
		account.VatID,
		account.Metadata,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND deleted_at IS NULL`,
		id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM accounts WHERE email = ? AND deleted_at IS NULL`,
		email,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET name = ?, email = ?, timezone = ?, tax_exempt = ?, tax_id = ?, vat_id = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		account.Name,
		account.Email,
		account.Timezone,
		account.TaxExempt,
		account.TaxID,
		account.VatID,
		account.Metadata,
		account.UpdatedAt,
		account.ID,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		at,
		id,
		from,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListAccountFilter, page pagination.Pagination) ([]*domain.Account, error) {
	var accounts []*domain.Account
	stmt := db.WithContext(ctx).Model(&domain.Account{}).Where("deleted_at IS NULL")
	if filter.Email != "" {
		stmt = stmt.Where("email = ?", filter.Email)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Currency != "" {
		stmt = stmt.Where("currency = ?", filter.Currency)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", *filter.CreatedTo)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}
