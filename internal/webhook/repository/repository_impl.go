package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/webhook/domain"
	"github.com/recurhq/recur/pkg/db/option"
	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const endpointColumns = `id, url, events, active, created_at, updated_at`

const eventColumns = `id, endpoint_id, endpoint_url, event_type, payload, status, retry_count, next_retry_at, last_error, created_at, delivered_at`

func (r *repo) InsertEndpoint(ctx context.Context, db *gorm.DB, endpoint *domain.Endpoint) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_endpoints (`+endpointColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		endpoint.ID,
		endpoint.URL,
		endpoint.Events,
		endpoint.Active,
		endpoint.CreatedAt,
		endpoint.UpdatedAt,
	).Error
}

func (r *repo) UpdateEndpoint(ctx context.Context, db *gorm.DB, endpoint *domain.Endpoint) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_endpoints SET url = ?, events = ?, active = ?, updated_at = ?
		 WHERE id = ?`,
		endpoint.URL,
		endpoint.Events,
		endpoint.Active,
		endpoint.UpdatedAt,
		endpoint.ID,
	).Error
}

func (r *repo) DeleteEndpoint(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM webhook_endpoints WHERE id = ?`, id)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) FindEndpointByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Endpoint, error) {
	var endpoint domain.Endpoint
	err := db.WithContext(ctx).Raw(
		`SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = ?`,
		id,
	).Scan(&endpoint).Error
	if err != nil {
		return nil, err
	}
	if endpoint.ID == 0 {
		return nil, nil
	}
	return &endpoint, nil
}

func (r *repo) ListEndpoints(ctx context.Context, db *gorm.DB, page pagination.Pagination) ([]*domain.Endpoint, error) {
	var endpoints []*domain.Endpoint
	stmt := db.WithContext(ctx).Model(&domain.Endpoint{})
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&endpoints).Error
	if err != nil {
		return nil, err
	}
	return endpoints, nil
}

func (r *repo) ListActiveEndpoints(ctx context.Context, db *gorm.DB) ([]domain.Endpoint, error) {
	var endpoints []domain.Endpoint
	err := db.WithContext(ctx).Raw(
		`SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE active = true ORDER BY id ASC`,
	).Scan(&endpoints).Error
	if err != nil {
		return nil, err
	}
	return endpoints, nil
}

func (r *repo) InsertEvents(ctx context.Context, db *gorm.DB, events []domain.Event) error {
	for i := range events {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO webhook_events (`+eventColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			events[i].ID,
			events[i].EndpointID,
			events[i].EndpointURL,
			events[i].EventType,
			events[i].Payload,
			events[i].Status,
			events[i].RetryCount,
			events[i].NextRetryAt,
			events[i].LastError,
			events[i].CreatedAt,
			events[i].DeliveredAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindEventByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Event, error) {
	var event domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM webhook_events WHERE id = ?`,
		id,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

// ClaimDueEvents selects due pending rows under a row lock and flips them to
// processing. Callers run it inside a short transaction so competing
// dispatchers skip each other's claims.
func (r *repo) ClaimDueEvents(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Event, error) {
	var events []domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM webhook_events
		 WHERE status = ? AND (retry_count = 0 OR next_retry_at <= ?)
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		domain.EventStatusPending,
		now,
		limit,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	ids := make([]snowflake.ID, 0, len(events))
	for i := range events {
		ids = append(ids, events[i].ID)
	}
	err = db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET status = ? WHERE id IN ?`,
		domain.EventStatusProcessing,
		ids,
	).Error
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Status = domain.EventStatusProcessing
	}
	return events, nil
}

func (r *repo) MarkDelivered(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET status = ?, delivered_at = ?, last_error = NULL WHERE id = ?`,
		domain.EventStatusDelivered,
		at,
		id,
	).Error
}

func (r *repo) MarkAttemptFailed(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET status = ?, retry_count = ?, next_retry_at = ?, last_error = ? WHERE id = ?`,
		event.Status,
		event.RetryCount,
		event.NextRetryAt,
		event.LastError,
		event.ID,
	).Error
}

func (r *repo) CountPendingEvents(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM webhook_events WHERE status IN ?`,
		[]domain.EventStatus{domain.EventStatusPending, domain.EventStatusProcessing},
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, filter domain.ListEventFilter, page pagination.Pagination) ([]*domain.Event, error) {
	var events []*domain.Event
	stmt := db.WithContext(ctx).Model(&domain.Event{})
	if filter.EndpointID != 0 {
		stmt = stmt.Where("endpoint_id = ?", filter.EndpointID)
	}
	if filter.EventType != "" {
		stmt = stmt.Where("event_type = ?", filter.EventType)
	}
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
