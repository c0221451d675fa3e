package domain

import (
	"context"
	"errors"
	"time"

	"github.com/recurhq/recur/pkg/db/pagination"
)

type CreateAccountRequest struct {
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Currency  string         `json:"currency"`
	Timezone  string         `json:"timezone"`
	TaxExempt bool           `json:"tax_exempt"`
	TaxID     *string        `json:"tax_id"`
	VatID     *string        `json:"vat_id"`
	Metadata  map[string]any `json:"metadata"`
}

type UpdateAccountRequest struct {
	ID        string         `json:"-"`
	Name      *string        `json:"name"`
	Email     *string        `json:"email"`
	Timezone  *string        `json:"timezone"`
	TaxExempt *bool          `json:"tax_exempt"`
	TaxID     *string        `json:"tax_id"`
	VatID     *string        `json:"vat_id"`
	Metadata  map[string]any `json:"metadata"`
}

type SetStatusRequest struct {
	ID     string
	Status Status
	Reason string
}

type GetAccountRequest struct {
	ID string
}

type ListAccountRequest struct {
	pagination.Pagination
	Email       string
	Status      string
	Currency    string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type ListAccountFilter struct {
	Email       string
	Status      string
	Currency    string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type ListAccountResponse struct {
	pagination.PageInfo
	Accounts []Account `json:"accounts"`
}

type Service interface {
	Create(ctx context.Context, req CreateAccountRequest) (Account, error)
	Update(ctx context.Context, req UpdateAccountRequest) (Account, error)
	SetStatus(ctx context.Context, req SetStatusRequest) (Account, error)
	GetByID(ctx context.Context, req GetAccountRequest) (Account, error)
	List(ctx context.Context, req ListAccountRequest) (ListAccountResponse, error)
}

var (
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidEmail      = errors.New("invalid_email")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrEmailTaken        = errors.New("email_taken")
	ErrNotFound          = errors.New("not_found")
	ErrIllegalTransition = errors.New("illegal_status_transition")
)
