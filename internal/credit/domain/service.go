package domain

import (
	"context"
	"errors"
	"time"

	invoicedomain "github.com/recurhq/recur/internal/invoice/domain"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type GrantCreditRequest struct {
	AccountID string     `json:"account_id"`
	Amount    int64      `json:"amount"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type GetCreditRequest struct {
	ID string `json:"-"`
}

// List state filters.
const (
	StateAvailable = "available"
	StateApplied   = "applied"
	StateExpired   = "expired"
)

type ListCreditRequest struct {
	pagination.Pagination

	AccountID string `form:"account_id"`
	State     string `form:"state"`
}

type ListCreditFilter struct {
	AccountID int64
	State     string
	Now       time.Time
}

type ListCreditResponse struct {
	pagination.PageInfo
	Credits []Credit `json:"credits"`
}

type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Currency  string `json:"currency"`
	Available int64  `json:"available"`
}

type Service interface {
	// Grant issues a credit in the account's currency and emits
	// credit.created.
	Grant(ctx context.Context, req GrantCreditRequest) (Credit, error)

	// ApplyToInvoice consumes available credits oldest first inside the
	// caller's transaction, decrementing the invoice's remaining balance
	// in memory as it goes. The caller persists the invoice row. Returns
	// the total amount applied.
	ApplyToInvoice(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) (int64, error)

	// GrantForInvoice issues a credit tied to an invoice on the caller's
	// transaction: the refund when a paid invoice is reversed, or the
	// surplus when a mid-cycle downgrade nets negative.
	GrantForInvoice(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, amount int64, reason string) (Credit, error)

	GetByID(ctx context.Context, req GetCreditRequest) (Credit, error)

	// Balance sums available credit for the account, in the given currency
	// or the account's own when blank.
	Balance(ctx context.Context, accountID, currency string) (BalanceResponse, error)

	List(ctx context.Context, req ListCreditRequest) (ListCreditResponse, error)
}

var (
	ErrInvalidID        = errors.New("invalid_credit_id")
	ErrInvalidAccountID = errors.New("invalid_account_id")
	ErrInvalidAmount    = errors.New("invalid_credit_amount")
	ErrInvalidReason    = errors.New("invalid_credit_reason")
	ErrInvalidExpiry    = errors.New("invalid_credit_expiry")
	ErrInvalidState     = errors.New("invalid_credit_state")
	ErrNotFound         = errors.New("credit_not_found")
	ErrAccountNotFound  = errors.New("account_not_found")
)
