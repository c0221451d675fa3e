package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/invoice/domain"
	"github.com/recurhq/recur/pkg/db/option"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const invoiceColumns = `id, number, account_id, subscription_id, status, origin, currency,
	 subtotal, tax, credit_applied, amount_due, amount_paid, period_start, period_end,
	 due_date, paid_at, voided_at, metadata, created_at, updated_at`

const lineItemColumns = `id, invoice_id, position, type, description, quantity, amount, metric, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.Number,
		invoice.AccountID,
		invoice.SubscriptionID,
		invoice.Status,
		invoice.Origin,
		invoice.Currency,
		invoice.Subtotal,
		invoice.Tax,
		invoice.CreditApplied,
		invoice.AmountDue,
		invoice.AmountPaid,
		invoice.PeriodStart,
		invoice.PeriodEnd,
		invoice.DueDate,
		invoice.PaidAt,
		invoice.VoidedAt,
		invoice.Metadata,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func (r *repo) InsertLineItems(ctx context.Context, db *gorm.DB, items []domain.LineItem) error {
	for i := range items {
		item := items[i]
		err := db.WithContext(ctx).Exec(
			`INSERT INTO invoice_line_items (`+lineItemColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.InvoiceID,
			item.Position,
			item.Type,
			item.Description,
			item.Quantity,
			item.Amount,
			item.Metric,
			item.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) ListLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.LineItem, error) {
	var items []domain.LineItem
	err := db.WithContext(ctx).Raw(
		`SELECT `+lineItemColumns+` FROM invoice_line_items
		 WHERE invoice_id = ?
		 ORDER BY position ASC, id ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindCycleForPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE subscription_id = ? AND origin = ? AND period_start = ? AND status <> ?
		 LIMIT 1`,
		subscriptionID,
		domain.OriginCycle,
		periodStart,
		domain.StatusVoid,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) NextNumber(ctx context.Context, db *gorm.DB) (int64, error) {
	if err := db.WithContext(ctx).Exec(
		`INSERT INTO invoice_counters (id, value, updated_at)
		 VALUES (1, 0, CURRENT_TIMESTAMP)
		 ON CONFLICT (id) DO NOTHING`,
	).Error; err != nil {
		return 0, err
	}

	var value int64
	if err := db.WithContext(ctx).Raw(
		`SELECT value FROM invoice_counters WHERE id = 1 FOR UPDATE`,
	).Scan(&value).Error; err != nil {
		return 0, err
	}

	next := value + 1
	if err := db.WithContext(ctx).Exec(
		`UPDATE invoice_counters SET value = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1`,
		next,
	).Error; err != nil {
		return 0, err
	}
	return next, nil
}

func (r *repo) UpdateAmounts(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET
			status = ?,
			subtotal = ?,
			tax = ?,
			credit_applied = ?,
			amount_due = ?,
			amount_paid = ?,
			paid_at = ?,
			voided_at = ?,
			metadata = ?,
			updated_at = ?
		 WHERE id = ?`,
		invoice.Status,
		invoice.Subtotal,
		invoice.Tax,
		invoice.CreditApplied,
		invoice.AmountDue,
		invoice.AmountPaid,
		invoice.PaidAt,
		invoice.VoidedAt,
		invoice.Metadata,
		invoice.UpdatedAt,
		invoice.ID,
	).Error
}

func (r *repo) ClaimOverdue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*domain.Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	var invoices []*domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE status = ? AND due_date < ?
		 ORDER BY due_date ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		domain.StatusOpen,
		now,
		limit,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ClaimDunnable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*domain.Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	var invoices []*domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE status IN (?, ?) AND due_date < ?
		 ORDER BY due_date ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		domain.StatusOpen,
		domain.StatusPastDue,
		now,
		limit,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) HasOverdueForAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM invoices
		 WHERE account_id = ? AND status IN (?, ?) AND due_date < ?`,
		accountID,
		domain.StatusOpen,
		domain.StatusPastDue,
		now,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListInvoiceFilter, page pagination.Pagination) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.AccountID != 0 {
		stmt = stmt.Where("account_id = ?", filter.AccountID)
	}
	if filter.SubscriptionID != 0 {
		stmt = stmt.Where("subscription_id = ?", filter.SubscriptionID)
	}
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}
