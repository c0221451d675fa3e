package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateSubscriptionRequest struct {
	AccountID string     `json:"account_id"`
	PlanID    string     `json:"plan_id"`
	Quantity  int32      `json:"quantity"`
	TrialEnd  *time.Time `json:"trial_end,omitempty"`
}

type UpdateSubscriptionRequest struct {
	ID                string `json:"-"`
	Quantity          *int32 `json:"quantity,omitempty"`
	CancelAtPeriodEnd *bool  `json:"cancel_at_period_end,omitempty"`
}

type CancelSubscriptionRequest struct {
	ID        string  `json:"-"`
	Immediate bool    `json:"immediate"`
	Reason    *string `json:"reason,omitempty"`
}

type PauseSubscriptionRequest struct {
	ID        string     `json:"-"`
	ResumesAt *time.Time `json:"resumes_at,omitempty"`
}

type ResumeSubscriptionRequest struct {
	ID string `json:"-"`
}

// ChangeTiming selects when a plan change takes effect.
type ChangeTiming string

const (
	ChangeImmediate   ChangeTiming = "immediate"
	ChangeAtPeriodEnd ChangeTiming = "at_period_end"
)

type ChangePlanRequest struct {
	ID          string       `json:"-"`
	NewPlanID   string       `json:"new_plan_id"`
	Timing      ChangeTiming `json:"timing"`
	NewQuantity *int32       `json:"new_quantity,omitempty"`
}

type GetSubscriptionRequest struct {
	ID string `json:"-"`
}

type ListSubscriptionRequest struct {
	pagination.Pagination
	AccountID string `form:"account_id"`
	Status    string `form:"status"`
}

type ListSubscriptionFilter struct {
	AccountID int64
	Status    *Status
}

type ListSubscriptionResponse struct {
	pagination.PageInfo
	Subscriptions []Subscription `json:"subscriptions"`
}

type ListHistoryRequest struct {
	pagination.Pagination
	SubscriptionID string `json:"-"`
}

type ListHistoryResponse struct {
	pagination.PageInfo
	History []SubscriptionHistory `json:"history"`
}

// TransitionReason is recorded on the history row a transition writes.
type TransitionReason string

const (
	ReasonRequested     TransitionReason = "requested"
	ReasonTrialEnded    TransitionReason = "trial_ended"
	ReasonPaymentFailed TransitionReason = "payment_failed"
	ReasonPaymentPaid   TransitionReason = "payment_recovered"
	ReasonAutoResume    TransitionReason = "pause_window_elapsed"
	ReasonAutoCancel    TransitionReason = "paused_too_long"
	ReasonPeriodEnded   TransitionReason = "period_ended"
)

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error)
	Update(ctx context.Context, req UpdateSubscriptionRequest) (Subscription, error)
	Cancel(ctx context.Context, req CancelSubscriptionRequest) (Subscription, error)
	Pause(ctx context.Context, req PauseSubscriptionRequest) (Subscription, error)
	Resume(ctx context.Context, req ResumeSubscriptionRequest) (Subscription, error)
	ChangePlan(ctx context.Context, req ChangePlanRequest) (Subscription, error)
	GetByID(ctx context.Context, req GetSubscriptionRequest) (Subscription, error)
	List(ctx context.Context, req ListSubscriptionRequest) (ListSubscriptionResponse, error)
	ListHistory(ctx context.Context, req ListHistoryRequest) (ListHistoryResponse, error)

	// Transition moves the subscription to target with state-machine
	// enforcement and a history row. Payment and scheduler flows use it for
	// past_due flips, trial conversion, and pause auto-handling.
	Transition(ctx context.Context, id snowflake.ID, target Status, reason TransitionReason) (Subscription, error)

	// ApplyPendingPlanChange swaps in pending_plan_id once the current
	// period has closed. A no-op when nothing is pending or the period is
	// still open.
	ApplyPendingPlanChange(ctx context.Context, id snowflake.ID) (Subscription, error)
}

// ProrationInvoicer issues the mid-cycle proration invoice for an immediate
// plan change. Implemented by the invoice assembler; invoked on the plan
// change transaction so the swap and the invoice commit together.
type ProrationInvoicer interface {
	CreateProrationInvoice(ctx context.Context, tx *gorm.DB, input ProrationInvoiceInput) (snowflake.ID, error)
}

type ProrationInvoiceInput struct {
	Subscription *Subscription
	OldPlanID    snowflake.ID
	OldQuantity  int32
	ChangeAt     time.Time
}

var (
	ErrInvalidID        = errors.New("invalid_subscription_id")
	ErrInvalidAccountID = errors.New("invalid_account_id")
	ErrInvalidPlanID    = errors.New("invalid_plan_id")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidTiming    = errors.New("invalid_change_timing")
	ErrInvalidStatus    = errors.New("invalid_status")

	ErrAccountNotFound    = errors.New("account_not_found")
	ErrAccountBlocked     = errors.New("account_blocked")
	ErrInvalidPlan        = errors.New("invalid_plan")
	ErrCurrencyMismatch   = errors.New("currency_mismatch")
	ErrIllegalTransition  = errors.New("illegal_state_transition")
	ErrNotFound           = errors.New("subscription_not_found")
	ErrSamePlan           = errors.New("plan_unchanged")
	ErrInvalidResumesAt   = errors.New("invalid_resumes_at")
	ErrPendingPlanMissing = errors.New("pending_plan_missing")
)
