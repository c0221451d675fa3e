// Package domain contains the invoice aggregate and its lifecycle rules.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the invoice lifecycle state.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusOpen    Status = "open"
	StatusPaid    Status = "paid"
	StatusVoid    Status = "void"
	StatusPastDue Status = "past_due"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusOpen, StatusPaid, StatusVoid, StatusPastDue:
		return true
	}
	return false
}

// Payable reports whether a payment may be attempted against the invoice.
func (s Status) Payable() bool {
	return s == StatusOpen || s == StatusPastDue
}

// Voidable reports whether the plain void entry point accepts the invoice.
func (s Status) Voidable() bool {
	return s == StatusDraft || s == StatusOpen || s == StatusPastDue
}

// Frozen reports whether the line items may no longer change.
func (s Status) Frozen() bool {
	return s == StatusPaid || s == StatusVoid
}

// Origin distinguishes how an invoice came to exist. Only cycle invoices
// participate in the duplicate-period check and the late-usage join.
const (
	OriginCycle        = "cycle"
	OriginProration    = "proration"
	OriginSupplemental = "supplemental"
)

// Invoice is the billing document. AmountDue is the live remaining
// balance: it starts at Subtotal+Tax and is driven to zero by credit
// application and successful payments; paid means AmountDue == 0 with
// PaidAt stamped.
type Invoice struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	Number         string            `gorm:"type:text;not null;uniqueIndex" json:"number"`
	AccountID      snowflake.ID      `gorm:"not null;index" json:"account_id"`
	SubscriptionID snowflake.ID      `gorm:"not null;index:ix_invoices_sub_period" json:"subscription_id"`
	Status         Status            `gorm:"type:text;not null;index" json:"status"`
	Origin         string            `gorm:"type:text;not null;default:cycle" json:"origin"`
	Currency       string            `gorm:"type:text;not null" json:"currency"`
	Subtotal       int64             `gorm:"not null;default:0" json:"subtotal"`
	Tax            int64             `gorm:"not null;default:0" json:"tax"`
	CreditApplied  int64             `gorm:"not null;default:0" json:"credit_applied"`
	AmountDue      int64             `gorm:"not null;default:0" json:"amount_due"`
	AmountPaid     int64             `gorm:"not null;default:0" json:"amount_paid"`
	PeriodStart    time.Time         `gorm:"not null;index:ix_invoices_sub_period" json:"period_start"`
	PeriodEnd      time.Time         `gorm:"not null" json:"period_end"`
	DueDate        time.Time         `gorm:"not null;index" json:"due_date"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	VoidedAt       *time.Time        `json:"voided_at,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	LineItems      []LineItem        `gorm:"-" json:"line_items,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Total is the gross amount before credits and payments.
func (i Invoice) Total() int64 { return i.Subtotal + i.Tax }

// LineItem is one signed entry on an invoice, ordered by Position.
type LineItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	Position    int32        `gorm:"not null;default:0" json:"position"`
	Type        string       `gorm:"type:text;not null" json:"type"`
	Description string       `gorm:"type:text;not null" json:"description"`
	Quantity    int64        `gorm:"not null;default:1" json:"quantity"`
	Amount      int64        `gorm:"not null" json:"amount"`
	Metric      *string      `gorm:"type:text" json:"metric,omitempty"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "invoice_line_items" }

// Counter is the single row backing sequential invoice numbering. It is
// locked FOR UPDATE for the duration of the issuing transaction.
type Counter struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Value     int64     `gorm:"not null;default:0" json:"value"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Counter) TableName() string { return "invoice_counters" }

// FormatNumber renders the nth issued invoice's display number.
func FormatNumber(n int64) string {
	return fmt.Sprintf("INV-%06d", n)
}

// Metadata keys stamped by the engine.
const (
	MetaProration       = "proration"
	MetaSupplemental    = "supplemental"
	MetaVoidReason      = "void_reason"
	MetaDunningReminder = "dunning_reminder_sent"
	MetaDunningWarning  = "dunning_warning_sent"
	MetaDunningBlocked  = "dunning_blocked_sent"
)
