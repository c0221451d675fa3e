package domain

import (
	"context"
	"errors"
	"time"

	"github.com/recurhq/recur/pkg/db/pagination"
)

type ListSnapshotRequest struct {
	pagination.Pagination
	MetricName string `form:"metric_name"`
	Period     string `form:"period"`
}

type ListSnapshotResponse struct {
	pagination.PageInfo
	Snapshots []Snapshot `json:"snapshots"`
}

// Service recomputes rollup metrics from live billing state and upserts
// them into analytics_snapshots. Both rollups are full recomputes, so a
// missed run costs nothing but staleness.
type Service interface {
	// RollupMRR writes one mrr_<currency> snapshot per billed currency
	// for the day containing now. Runs hourly.
	RollupMRR(ctx context.Context, now time.Time) (int, error)

	// RollupRetention writes the churn_rate snapshot and, when churn is
	// non-zero, one ltv_<currency> snapshot per billed currency. Runs
	// daily. Returns the number of snapshots written.
	RollupRetention(ctx context.Context, now time.Time) (int, error)

	// ListSnapshots pages computed snapshots, newest period first.
	ListSnapshots(ctx context.Context, req ListSnapshotRequest) (ListSnapshotResponse, error)
}

var (
	ErrInvalidPeriod    = errors.New("invalid_period")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
