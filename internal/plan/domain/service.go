package domain

import (
	"context"
	"errors"

	"github.com/recurhq/recur/pkg/db/pagination"
)

type TierInput struct {
	UpTo       *int64 `json:"up_to"`
	UnitAmount int64  `json:"unit_amount"`
}

type CreatePlanRequest struct {
	Name      string      `json:"name"`
	Interval  string      `json:"interval"`
	Amount    int64       `json:"amount"`
	Currency  string      `json:"currency"`
	TrialDays int         `json:"trial_days"`
	UsageType *string     `json:"usage_type"`
	Tiers     []TierInput `json:"tiers"`
}

// CreateVersionRequest is the price-change path: a new plan row with the
// same code, version+1, and the old row deactivated. Interval and currency
// carry over unchanged; existing subscriptions depend on both.
type CreateVersionRequest struct {
	ID        string      `json:"-"`
	Name      *string     `json:"name"`
	Amount    *int64      `json:"amount"`
	TrialDays *int        `json:"trial_days"`
	UsageType *string     `json:"usage_type"`
	Tiers     []TierInput `json:"tiers"`
}

type GetPlanRequest struct {
	ID string
}

type ListPlanRequest struct {
	pagination.Pagination
	Code     string
	Interval string
	Currency string
	Active   *bool
}

type ListPlanFilter struct {
	Code     string
	Interval string
	Currency string
	Active   *bool
}

type ListPlanResponse struct {
	pagination.PageInfo
	Plans []Plan `json:"plans"`
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (Plan, error)
	CreateVersion(ctx context.Context, req CreateVersionRequest) (Plan, error)
	Archive(ctx context.Context, id string) (Plan, error)
	GetByID(ctx context.Context, req GetPlanRequest) (Plan, error)
	List(ctx context.Context, req ListPlanRequest) (ListPlanResponse, error)
}

var (
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidInterval  = errors.New("invalid_interval")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidTrialDays = errors.New("invalid_trial_days")
	ErrInvalidUsageType = errors.New("invalid_usage_type")
	ErrInvalidTiers     = errors.New("invalid_tiers")
	ErrInvalidID        = errors.New("invalid_id")
	ErrCodeTaken        = errors.New("code_taken")
	ErrVersionConflict  = errors.New("version_conflict")
	ErrNotFound         = errors.New("not_found")
)
