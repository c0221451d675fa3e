package domain

import (
	"context"

	accountdomain "github.com/recurhq/recur/internal/account/domain"
)

// LineHint gives the oracle visibility into what the subtotal is made of.
type LineHint struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}

// CalculateRequest is the oracle input.
type CalculateRequest struct {
	Location string     `json:"location"`
	Amount   int64      `json:"amount"`
	Currency string     `json:"currency"`
	Lines    []LineHint `json:"lines,omitempty"`
}

// Oracle answers tax questions for a location. Implementations are the
// hosted tax service and the built-in rate table.
type Oracle interface {
	Calculate(ctx context.Context, req CalculateRequest) (*Assessment, error)
}

// Resolver decides the tax on an invoice subtotal. It never fails: the
// exemption rules short-circuit the oracle, and an oracle error degrades
// to the configured flat fallback rate.
type Resolver interface {
	AssessInvoice(ctx context.Context, account *accountdomain.Account, subtotal int64, currency string, lines []LineHint) Assessment
}

type CreateRateRequest struct {
	Location string  `json:"location"`
	Name     string  `json:"name"`
	Rate     float64 `json:"rate"`
	Active   *bool   `json:"active,omitempty"`
}

type UpdateRateRequest struct {
	ID     string   `json:"-"`
	Name   *string  `json:"name,omitempty"`
	Rate   *float64 `json:"rate,omitempty"`
	Active *bool    `json:"active,omitempty"`
}

type ListRateRequest struct {
	Location string `form:"location"`
	Active   *bool  `form:"active"`
	SortBy   string `form:"sort_by"`
	OrderBy  string `form:"order_by"`
}

// Service manages the static rate table.
type Service interface {
	CreateRate(ctx context.Context, req CreateRateRequest) (TaxRate, error)
	UpdateRate(ctx context.Context, req UpdateRateRequest) (TaxRate, error)
	DisableRate(ctx context.Context, id string) (TaxRate, error)
	ListRates(ctx context.Context, req ListRateRequest) ([]TaxRate, error)
}
