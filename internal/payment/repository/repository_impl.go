package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/payment/domain"
	"github.com/recurhq/recur/pkg/db/option"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, invoice_id, account_id, amount, currency, status, payment_method_id,
	 gateway_txn_id, failure_message, idempotency_key, retry_count, next_retry_at,
	 first_attempt_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		payment.ID,
		payment.InvoiceID,
		payment.AccountID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.PaymentMethodID,
		payment.GatewayTxnID,
		payment.FailureMessage,
		payment.IdempotencyKey,
		payment.RetryCount,
		payment.NextRetryAt,
		payment.FirstAttemptAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = ?`,
		key,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) FindPendingByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments
		 WHERE invoice_id = ? AND status = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		invoiceID,
		domain.StatusPending,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, lease time.Duration, limit int) ([]*domain.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	var payments []*domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments
		 WHERE ((status = ? AND gateway_txn_id IS NULL) OR status = ?)
		   AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		 ORDER BY next_retry_at ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		domain.StatusPending,
		domain.StatusFailed,
		now,
		limit,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, nil
	}

	ids := make([]snowflake.ID, 0, len(payments))
	for _, payment := range payments {
		ids = append(ids, payment.ID)
	}
	leaseUntil := now.Add(lease)
	if err := db.WithContext(ctx).Exec(
		`UPDATE payments SET next_retry_at = ?, updated_at = ? WHERE id IN ?`,
		leaseUntil,
		now,
		ids,
	).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments SET
			status = ?,
			amount = ?,
			payment_method_id = ?,
			gateway_txn_id = ?,
			failure_message = ?,
			retry_count = ?,
			next_retry_at = ?,
			first_attempt_at = ?,
			updated_at = ?
		 WHERE id = ?`,
		payment.Status,
		payment.Amount,
		payment.PaymentMethodID,
		payment.GatewayTxnID,
		payment.FailureMessage,
		payment.RetryCount,
		payment.NextRetryAt,
		payment.FirstAttemptAt,
		payment.UpdatedAt,
		payment.ID,
	).Error
}

func (r *repo) CancelOpen(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, next_retry_at = NULL, updated_at = ?
		 WHERE invoice_id = ?
		   AND ((status = ? AND gateway_txn_id IS NULL) OR status = ?)`,
		domain.StatusCancelled,
		at,
		invoiceID,
		domain.StatusPending,
		domain.StatusFailed,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListPaymentFilter, page pagination.Pagination) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	stmt := db.WithContext(ctx).Model(&domain.Payment{})
	if filter.InvoiceID != 0 {
		stmt = stmt.Where("invoice_id = ?", filter.InvoiceID)
	}
	if filter.AccountID != 0 {
		stmt = stmt.Where("account_id = ?", filter.AccountID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
