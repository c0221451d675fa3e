package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// EventStatus tracks outbox delivery state.
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusDelivered  EventStatus = "delivered"
	EventStatusFailed     EventStatus = "failed"
)

// Endpoint is a registered webhook receiver. Events holds the subscribed
// patterns: exact types ("invoice.paid"), category wildcards ("invoice.*"),
// or "*" for everything.
type Endpoint struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	URL       string         `gorm:"type:text;not null" json:"url"`
	Events    pq.StringArray `gorm:"type:text[];not null" json:"events"`
	Active    bool           `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Endpoint) TableName() string { return "webhook_endpoints" }

// Matches reports whether the endpoint subscribes to the event type.
func (e Endpoint) Matches(eventType string) bool {
	if !e.Active {
		return false
	}
	category, _, _ := strings.Cut(eventType, ".")
	for _, pattern := range e.Events {
		switch pattern {
		case "*", eventType, category + ".*":
			return true
		}
	}
	return false
}

// Event is one outbox row: a single event fanned out to a single endpoint.
// Rows are written in the same transaction as the state change they report.
// EnvelopeID is the uuid carried as the delivery payload's "id"; consumers
// dedupe on it, so it stays fixed across redeliveries.
type Event struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	EnvelopeID  string            `gorm:"type:text;not null;uniqueIndex" json:"envelope_id"`
	EndpointID  snowflake.ID      `gorm:"not null;index" json:"endpoint_id"`
	EndpointURL string            `gorm:"type:text;not null" json:"endpoint_url"`
	EventType   string            `gorm:"type:text;not null;index" json:"event_type"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null" json:"payload"`
	Status      EventStatus       `gorm:"type:text;not null;default:'pending';index" json:"status"`
	RetryCount  int32             `gorm:"not null;default:0" json:"retry_count"`
	NextRetryAt *time.Time        `gorm:"index" json:"next_retry_at,omitempty"`
	LastError   *string           `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "webhook_events" }
