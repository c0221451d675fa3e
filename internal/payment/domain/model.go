// Package domain holds the payment attempt lifecycle. A payment row is the
// idempotency fence for a charge: the caller's key maps to exactly one row,
// and every gateway attempt for that row derives its own processor key from
// it, so replays at either layer cannot double-charge.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the payment can never be attempted again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusCancelled
}

// NextRetryTime places the retry after the n-th failure. Offsets are day
// counts measured from the first attempt, not the previous failure; nil
// means the schedule is exhausted and the payment is frozen.
func NextRetryTime(firstAttempt time.Time, failures int32, offsetDays []int) *time.Time {
	if failures < 1 || int(failures) > len(offsetDays) {
		return nil
	}
	at := firstAttempt.Add(time.Duration(offsetDays[failures-1]) * 24 * time.Hour)
	return &at
}

// MaxKeyLen bounds caller-supplied idempotency keys.
const MaxKeyLen = 255

// ServerKey builds the idempotency key for payments the engine enqueues
// itself.
func ServerKey(invoiceID snowflake.ID) string {
	return fmt.Sprintf("payment_%d_%s", invoiceID, uuid.NewString())
}

// GatewayKey scopes the processor-side idempotency key to one attempt.
// Retrying after a definitive decline must be a fresh charge, while a
// replay of the same attempt (crash between claim and outcome) reuses the
// key and lands on the processor's dedupe.
func GatewayKey(key string, attempt int32) string {
	return fmt.Sprintf("%s_r%d", key, attempt)
}

// ValidKey reports whether the key is non-empty printable ASCII within
// bounds.
func ValidKey(key string) bool {
	if key == "" || len(key) > MaxKeyLen {
		return false
	}
	for _, r := range key {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}

type Payment struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	InvoiceID       snowflake.ID  `json:"invoice_id" gorm:"not null;index"`
	AccountID       snowflake.ID  `json:"account_id" gorm:"not null;index"`
	Amount          int64         `json:"amount" gorm:"not null"`
	Currency        string        `json:"currency" gorm:"type:varchar(10);not null"`
	Status          Status        `json:"status" gorm:"type:varchar(20);not null;index"`
	PaymentMethodID *snowflake.ID `json:"payment_method_id,omitempty"`
	GatewayTxnID    *string       `json:"gateway_txn_id,omitempty" gorm:"type:text"`
	FailureMessage  *string       `json:"failure_message,omitempty" gorm:"type:text"`
	IdempotencyKey  string        `json:"idempotency_key" gorm:"type:varchar(255);not null;uniqueIndex:ux_payments_idempotency_key"`
	RetryCount      int32         `json:"retry_count" gorm:"not null;default:0"`
	NextRetryAt     *time.Time    `json:"next_retry_at,omitempty" gorm:"index"`
	FirstAttemptAt  *time.Time    `json:"first_attempt_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time     `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string {
	return "payments"
}

// AwaitingCallback reports whether the processor holds the outcome: the
// charge went out and came back pending, so only a callback (or manual
// resolution) can settle it.
func (p *Payment) AwaitingCallback() bool {
	return p.Status == StatusPending && p.GatewayTxnID != nil
}
