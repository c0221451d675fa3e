package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/paymentmethod/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const methodColumns = `id, account_id, gateway_token, brand, last4, exp_month, exp_year, is_default, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, method *domain.PaymentMethod) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_methods (id, account_id, gateway_token, brand, last4, exp_month, exp_year, is_default, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		method.ID,
		method.AccountID,
		method.GatewayToken,
		method.Brand,
		method.Last4,
		method.ExpMonth,
		method.ExpYear,
		method.IsDefault,
		method.CreatedAt,
		method.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT `+methodColumns+` FROM payment_methods WHERE id = ?`,
		id,
	).Scan(&method).Error
	if err != nil {
		return nil, err
	}
	if method.ID == 0 {
		return nil, nil
	}
	return &method, nil
}

func (r *repo) FindByToken(ctx context.Context, db *gorm.DB, token string) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT `+methodColumns+` FROM payment_methods WHERE gateway_token = ?`,
		token,
	).Scan(&method).Error
	if err != nil {
		return nil, err
	}
	if method.ID == 0 {
		return nil, nil
	}
	return &method, nil
}

func (r *repo) FindDefault(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT `+methodColumns+` FROM payment_methods WHERE account_id = ? AND is_default = ?`,
		accountID,
		true,
	).Scan(&method).Error
	if err != nil {
		return nil, err
	}
	if method.ID == 0 {
		return nil, nil
	}
	return &method, nil
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]*domain.PaymentMethod, error) {
	var methods []*domain.PaymentMethod
	err := db.WithContext(ctx).
		Model(&domain.PaymentMethod{}).
		Where("account_id = ?", accountID).
		Order("created_at asc, id asc").
		Find(&methods).Error
	if err != nil {
		return nil, err
	}
	return methods, nil
}

func (r *repo) ClearDefault(ctx context.Context, db *gorm.DB, accountID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_methods SET is_default = ? WHERE account_id = ? AND is_default = ?`,
		false,
		accountID,
		true,
	).Error
}

func (r *repo) SetDefault(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_methods SET is_default = ? WHERE id = ?`,
		true,
		id,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM payment_methods WHERE id = ?`,
		id,
	).Error
}

func (r *repo) CountByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.PaymentMethod{}).
		Where("account_id = ?", accountID).
		Count(&count).Error
	return count, err
}
