package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type AddPaymentMethodRequest struct {
	AccountID    string `json:"account_id"`
	GatewayToken string `json:"gateway_token"`
	Brand        string `json:"brand"`
	Last4        string `json:"last4"`
	ExpMonth     int    `json:"exp_month"`
	ExpYear      int    `json:"exp_year"`
	MakeDefault  bool   `json:"make_default"`
}

type SetDefaultRequest struct {
	AccountID string
	ID        string
}

type RemoveRequest struct {
	AccountID string
	ID        string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, method *PaymentMethod) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentMethod, error)
	FindByToken(ctx context.Context, db *gorm.DB, token string) (*PaymentMethod, error)
	FindDefault(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*PaymentMethod, error)
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]*PaymentMethod, error)
	// ClearDefault unsets is_default for every method on the account.
	ClearDefault(ctx context.Context, db *gorm.DB, accountID snowflake.ID) error
	SetDefault(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	CountByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, error)
}

type Service interface {
	Add(ctx context.Context, req AddPaymentMethodRequest) (PaymentMethod, error)
	SetDefault(ctx context.Context, req SetDefaultRequest) (PaymentMethod, error)
	Remove(ctx context.Context, req RemoveRequest) error
	ListByAccount(ctx context.Context, accountID string) ([]PaymentMethod, error)
	// DefaultForAccount returns nil when the account has no default method.
	DefaultForAccount(ctx context.Context, accountID snowflake.ID) (*PaymentMethod, error)
}

var (
	ErrInvalidAccount = errors.New("invalid_account")
	ErrInvalidToken   = errors.New("invalid_gateway_token")
	ErrInvalidExpiry  = errors.New("invalid_expiry")
	ErrInvalidID      = errors.New("invalid_id")
	ErrTokenTaken     = errors.New("gateway_token_taken")
	ErrNotFound       = errors.New("not_found")
)
