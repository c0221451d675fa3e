package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	InsertEndpoint(ctx context.Context, db *gorm.DB, endpoint *Endpoint) error
	UpdateEndpoint(ctx context.Context, db *gorm.DB, endpoint *Endpoint) error
	DeleteEndpoint(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
	FindEndpointByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Endpoint, error)
	ListEndpoints(ctx context.Context, db *gorm.DB, page pagination.Pagination) ([]*Endpoint, error)
	ListActiveEndpoints(ctx context.Context, db *gorm.DB) ([]Endpoint, error)

	InsertEvents(ctx context.Context, db *gorm.DB, events []Event) error
	FindEventByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
	ClaimDueEvents(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Event, error)
	MarkDelivered(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	MarkAttemptFailed(ctx context.Context, db *gorm.DB, event *Event) error
	CountPendingEvents(ctx context.Context, db *gorm.DB) (int64, error)
	ListEvents(ctx context.Context, db *gorm.DB, filter ListEventFilter, page pagination.Pagination) ([]*Event, error)
}
