package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

// CreateEntryInput describes one economic event to journal.
type CreateEntryInput struct {
	SourceType SourceType
	SourceID   snowflake.ID
	Currency   string
	OccurredAt time.Time
	Lines      []LineInput
}

type ListEntryRequest struct {
	pagination.Pagination

	SourceType string `form:"source_type"`
	SourceID   string `form:"source_id"`
}

type ListEntryFilter struct {
	SourceType string
	SourceID   int64
}

type ListEntryResponse struct {
	PageInfo pagination.PageInfo `json:"page_info"`
	Entries  []Entry             `json:"entries"`
}

type Service interface {
	// CreateEntry posts a balanced journal entry on the caller's
	// transaction. A replay on the same (source type, source id) is a
	// no-op.
	CreateEntry(ctx context.Context, tx *gorm.DB, input CreateEntryInput) error

	List(ctx context.Context, req ListEntryRequest) (ListEntryResponse, error)

	// Balances nets debits against credits per account, optionally
	// restricted to entries in one currency.
	Balances(ctx context.Context, currency string) ([]Balance, error)

	// EnsureAccounts seeds the chart of accounts. Safe to call repeatedly.
	EnsureAccounts(ctx context.Context) error
}

var (
	ErrInvalidSourceType = errors.New("invalid_source_type")
	ErrInvalidSourceID   = errors.New("invalid_source_id")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrInvalidOccurredAt = errors.New("invalid_occurred_at")
	ErrInvalidLines      = errors.New("invalid_entry_lines")
	ErrInvalidDirection  = errors.New("invalid_line_direction")
	ErrInvalidAmount     = errors.New("invalid_line_amount")
	ErrUnknownAccount    = errors.New("unknown_ledger_account")
	ErrUnbalanced        = errors.New("unbalanced_entry")
)
