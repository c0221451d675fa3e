// Package domain contains the metered-usage model and ingest contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Record lifecycle. Pending rows are counted at the next period close,
// billed rows are attached to an invoice, dropped rows arrived past the
// late-usage grace window and are retained for audit only.
const (
	RecordStatusPending = "pending"
	RecordStatusBilled  = "billed"
	RecordStatusDropped = "dropped"
)

// UsageRecord is one unit of metered activity. RecordedAt is the event
// time reported by the producer and attributes the record to a billing
// period; ReceivedAt is when the API accepted it. The two diverge for
// late arrivals.
type UsageRecord struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	SubscriptionID snowflake.ID  `gorm:"not null;index:ix_usage_records_window" json:"subscription_id"`
	Metric         string        `gorm:"type:text;not null" json:"metric"`
	Quantity       int64         `gorm:"not null" json:"quantity"`
	RecordedAt     time.Time     `gorm:"not null;index:ix_usage_records_window" json:"timestamp"`
	IdempotencyKey string        `gorm:"type:text;not null;uniqueIndex" json:"idempotency_key"`
	ReceivedAt     time.Time     `gorm:"not null" json:"received_at"`
	Status         string        `gorm:"type:text;not null;default:pending;index" json:"status"`
	InvoiceID      *snowflake.ID `json:"invoice_id,omitempty"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// MetricTotal is one metric's summed quantity over an aggregation window.
type MetricTotal struct {
	Metric   string `json:"metric"`
	Quantity int64  `json:"quantity"`
}

// LateArrival pairs a pending usage record with the closed-period invoice
// its event time falls into. Scan target for the reconciliation query; the
// sweep re-reads the invoice under lock before acting on it.
type LateArrival struct {
	RecordID       snowflake.ID
	SubscriptionID snowflake.ID
	Metric         string
	Quantity       int64
	RecordedAt     time.Time
	ReceivedAt     time.Time
	InvoiceID      snowflake.ID
	PeriodStart    time.Time
	PeriodEnd      time.Time
}
