package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type GetInvoiceRequest struct {
	ID string `json:"-"`
}

type VoidInvoiceRequest struct {
	ID     string `json:"-"`
	Reason string `json:"reason"`

	// AllowPaidReversal admits the administrative reversal path: voiding a
	// paid invoice refunds AmountPaid as a credit.
	AllowPaidReversal bool `json:"allow_paid_reversal,omitempty"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
	AccountID      string `form:"account_id"`
	SubscriptionID string `form:"subscription_id"`
	Status         string `form:"status"`
}

type ListInvoiceFilter struct {
	AccountID      int64
	SubscriptionID int64
	Status         *Status
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	// GenerateForSubscription closes the subscription's current period into
	// an open invoice: pricing, tax, sequential number, credit application,
	// outbox write, payment enqueue, and usage marking all commit in one
	// transaction. The period itself stays closed until the billing cycle
	// applies any pending plan change and rolls it forward, so replays land
	// on ErrDuplicatePeriod instead of double billing.
	GenerateForSubscription(ctx context.Context, subscriptionID snowflake.ID) (*Invoice, error)

	Void(ctx context.Context, req VoidInvoiceRequest) (Invoice, error)
	GetByID(ctx context.Context, req GetInvoiceRequest) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)

	// SweepOverdue flips open invoices past their due date to past_due.
	// Returns the number of invoices transitioned.
	SweepOverdue(ctx context.Context, batchSize int) (int, error)

	// ReconcileLateUsage routes usage that arrived after its period closed:
	// within the grace window it extends the still-open period invoice or
	// issues a supplemental invoice when that invoice is paid or void;
	// beyond the window the records are dropped. Returns records handled.
	ReconcileLateUsage(ctx context.Context, batchSize int) (int, error)

	// CreateProrationInvoice satisfies the subscription engine's
	// ProrationInvoicer: it runs inside the plan-change transaction.
	CreateProrationInvoice(ctx context.Context, tx *gorm.DB, input subscriptiondomain.ProrationInvoiceInput) (snowflake.ID, error)
}

var (
	ErrInvalidID         = errors.New("invalid_invoice_id")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidReason     = errors.New("invalid_void_reason")
	ErrNotFound          = errors.New("invoice_not_found")
	ErrDuplicatePeriod   = errors.New("duplicate_period")
	ErrIllegalTransition = errors.New("illegal_state_transition")

	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrAccountNotFound      = errors.New("account_not_found")
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrPeriodStillOpen      = errors.New("period_still_open")
	ErrNotBillable          = errors.New("subscription_not_billable")
)
