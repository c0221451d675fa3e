// Package domain models account credit balances. A credit row is consumed
// at most once: applying part of a credit shrinks the row to the consumed
// amount and inserts a fresh row for the remainder, so applied rows are
// immutable history and the sum over all rows equals everything granted.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Reason values the engine itself writes. Grants from operators carry
// free-form reasons.
const (
	ReasonPromotional      = "promotional"
	ReasonGoodwill         = "goodwill"
	ReasonRefundFromVoid   = "refund_from_void"
	ReasonSplitRemainder   = "split_remainder"
	ReasonDowngradeSurplus = "downgrade_surplus"
)

type Credit struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID snowflake.ID `gorm:"not null;index:ix_credits_account_currency" json:"account_id"`
	Amount    int64        `gorm:"not null" json:"amount"`
	Currency  string       `gorm:"type:text;not null;index:ix_credits_account_currency" json:"currency"`
	Reason    string       `gorm:"type:text;not null" json:"reason"`

	// OriginCreditID points a split remainder back at the credit it came
	// from.
	OriginCreditID *snowflake.ID `json:"origin_credit_id,omitempty"`

	ExpiresAt          *time.Time    `gorm:"index" json:"expires_at,omitempty"`
	AppliedToInvoiceID *snowflake.ID `gorm:"index" json:"applied_to_invoice_id,omitempty"`
	AppliedAt          *time.Time    `json:"applied_at,omitempty"`
	CreatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Credit) TableName() string { return "credits" }

// Applied reports whether the credit has been consumed by an invoice.
func (c Credit) Applied() bool { return c.AppliedToInvoiceID != nil }

// Expired reports whether the credit's expiry has passed. Expired rows are
// retained for audit and never deleted.
func (c Credit) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// Available reports whether the credit can still offset an invoice.
func (c Credit) Available(now time.Time) bool {
	return !c.Applied() && !c.Expired(now)
}
