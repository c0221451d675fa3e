package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the subscription lifecycle state.
type Status string

const (
	StatusTrialing  Status = "trialing"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusPaused, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle permits moving from s to
// target. Cancelled is terminal.
func (s Status) CanTransition(target Status) bool {
	switch s {
	case StatusTrialing:
		return target == StatusActive || target == StatusPaused || target == StatusCancelled
	case StatusActive:
		return target == StatusPastDue || target == StatusPaused || target == StatusCancelled
	case StatusPastDue:
		return target == StatusActive || target == StatusPaused || target == StatusCancelled
	case StatusPaused:
		return target == StatusActive || target == StatusCancelled
	default:
		return false
	}
}

// Billable reports whether usage may be recorded against the subscription.
func (s Status) Billable() bool {
	return s != StatusPaused && s != StatusCancelled
}

type Subscription struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID          snowflake.ID      `gorm:"not null;index" json:"account_id"`
	PlanID             snowflake.ID      `gorm:"not null;index" json:"plan_id"`
	Status             Status            `gorm:"type:text;not null;index" json:"status"`
	Quantity           int32             `gorm:"not null;default:1" json:"quantity"`
	CurrentPeriodStart time.Time         `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time         `gorm:"not null;index" json:"current_period_end"`
	CancelAtPeriodEnd  bool              `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	TrialEnd           *time.Time        `json:"trial_end,omitempty"`
	PausedAt           *time.Time        `json:"paused_at,omitempty"`
	PauseResumesAt     *time.Time        `json:"pause_resumes_at,omitempty"`
	PendingPlanID      *snowflake.ID     `json:"pending_plan_id,omitempty"`
	PendingQuantity    *int32            `json:"pending_quantity,omitempty"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// InTrial reports whether the subscription is still inside its trial window.
func (s Subscription) InTrial(now time.Time) bool {
	return s.Status == StatusTrialing && s.TrialEnd != nil && s.TrialEnd.After(now)
}

// History event types.
const (
	HistoryCreated             = "subscription_created"
	HistoryStatusChanged       = "status_changed"
	HistoryQuantityChanged     = "quantity_changed"
	HistoryPlanChanged         = "plan_changed"
	HistoryPlanChangeScheduled = "plan_change_scheduled"
	HistoryCancelScheduled     = "cancel_scheduled"
	HistoryCancelUnscheduled   = "cancel_unscheduled"
	HistoryPeriodAdvanced      = "period_advanced"
)

// SubscriptionHistory is the append-only change record. Every state, plan,
// quantity, or period change writes one row in the same transaction as the
// change itself.
type SubscriptionHistory struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	SubscriptionID snowflake.ID `gorm:"not null;index" json:"subscription_id"`
	EventType      string       `gorm:"type:text;not null" json:"event_type"`
	OldValue       *string      `gorm:"type:text" json:"old_value,omitempty"`
	NewValue       string       `gorm:"type:text;not null" json:"new_value"`
	Reason         *string      `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"at"`
}

// TableName sets the database table name.
func (SubscriptionHistory) TableName() string { return "subscription_history" }
