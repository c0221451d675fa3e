package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/recurhq/recur/internal/gateway/domain"
	"github.com/recurhq/recur/pkg/db/pagination"
)

type AttemptPaymentRequest struct {
	InvoiceID       string `json:"invoice_id"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

type GetPaymentRequest struct {
	ID string `json:"-"`
}

type ListPaymentRequest struct {
	pagination.Pagination
	InvoiceID string `form:"invoice_id"`
	AccountID string `form:"account_id"`
	Status    string `form:"status"`
}

type ListPaymentFilter struct {
	InvoiceID snowflake.ID
	AccountID snowflake.ID
	Status    string
}

type ListPaymentResponse struct {
	PageInfo pagination.PageInfo `json:"page_info"`
	Payments []Payment           `json:"payments"`
}

// Service drives charge attempts and settles their outcomes.
//
// Attempt is the caller-facing entry: same key, same payment row, at most
// one charge. RunDue claims due rows and charges them outside any
// transaction; invoice generation enqueues the initial pending row itself.
// MarkSucceeded and MarkFailed are the manual/callback resolution paths and
// are idempotent on replay.
type Service interface {
	Attempt(ctx context.Context, req AttemptPaymentRequest) (*Payment, error)
	RunDue(ctx context.Context, now time.Time, limit int) (int, error)
	MarkSucceeded(ctx context.Context, id snowflake.ID, txnID string, at time.Time) (*Payment, error)
	MarkFailed(ctx context.Context, id snowflake.ID, reason string, at time.Time) (*Payment, error)
	HandleCallback(ctx context.Context, event *gatewaydomain.CallbackEvent) error
	GetByID(ctx context.Context, req GetPaymentRequest) (*Payment, error)
	List(ctx context.Context, req ListPaymentRequest) (*ListPaymentResponse, error)
}

var (
	ErrInvalidID         = errors.New("invalid_payment_id")
	ErrInvalidKey        = errors.New("invalid_idempotency_key")
	ErrInvalidStatus     = errors.New("invalid_payment_status")
	ErrNotFound          = errors.New("payment_not_found")
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
	ErrInvoiceNotPayable = errors.New("invoice_not_payable")
	ErrNoPaymentMethod   = errors.New("no_payment_method")
	ErrPaymentPending    = errors.New("payment_already_pending")
	ErrStateConflict     = errors.New("payment_state_conflict")
)
