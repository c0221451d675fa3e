package domain

import (
	"context"
	"errors"
	"time"

	"github.com/recurhq/recur/pkg/db/pagination"
)

type RecordUsageRequest struct {
	SubscriptionID string     `json:"subscription_id"`
	Metric         string     `json:"metric"`
	Quantity       int64      `json:"quantity"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
}

type AggregateUsageRequest struct {
	SubscriptionID string    `form:"subscription_id" json:"subscription_id"`
	Metric         string    `form:"metric" json:"metric,omitempty"`
	From           time.Time `form:"from" json:"from"`
	To             time.Time `form:"to" json:"to"`
}

type AggregateUsageResponse struct {
	SubscriptionID string        `json:"subscription_id"`
	From           time.Time     `json:"from"`
	To             time.Time     `json:"to"`
	Totals         []MetricTotal `json:"totals"`
}

type ListUsageRequest struct {
	pagination.Pagination
	SubscriptionID string `form:"subscription_id"`
	Metric         string `form:"metric"`
	Status         string `form:"status"`
}

type ListUsageFilter struct {
	SubscriptionID int64
	Metric         string
	Status         string
}

type ListUsageResponse struct {
	pagination.PageInfo
	UsageRecords []UsageRecord `json:"usage_records"`
}

type Service interface {
	// Record ingests one metered event. Replays on the same idempotency key
	// return the stored row untouched.
	Record(ctx context.Context, req RecordUsageRequest) (UsageRecord, error)

	// Aggregate sums quantity per metric over [from, to). Dropped rows are
	// excluded.
	Aggregate(ctx context.Context, req AggregateUsageRequest) (AggregateUsageResponse, error)

	List(ctx context.Context, req ListUsageRequest) (ListUsageResponse, error)
}

var (
	ErrInvalidID       = errors.New("invalid_subscription_id")
	ErrInvalidMetric   = errors.New("invalid_metric")
	ErrInvalidQuantity = errors.New("invalid_quantity")
	ErrInvalidKey      = errors.New("invalid_idempotency_key")
	ErrInvalidWindow   = errors.New("invalid_aggregation_window")
	ErrInvalidStatus   = errors.New("invalid_status")

	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionInactive = errors.New("subscription_inactive")
)
