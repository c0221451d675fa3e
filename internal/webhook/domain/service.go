package domain

import (
	"context"
	"errors"

	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CreateEndpointRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type UpdateEndpointRequest struct {
	ID     string   `json:"-"`
	URL    *string  `json:"url,omitempty"`
	Events []string `json:"events,omitempty"`
	Active *bool    `json:"active,omitempty"`
}

type GetEndpointRequest struct {
	ID string `json:"-"`
}

type ListEndpointRequest struct {
	pagination.Pagination
}

type ListEndpointResponse struct {
	pagination.PageInfo
	Endpoints []Endpoint `json:"endpoints"`
}

type ListEventRequest struct {
	pagination.Pagination
	EndpointID string `form:"endpoint_id"`
	EventType  string `form:"event_type"`
	Status     string `form:"status"`
}

type ListEventFilter struct {
	EndpointID int64
	EventType  string
	Status     *EventStatus
}

type ListEventResponse struct {
	pagination.PageInfo
	Events []Event `json:"events"`
}

// Service manages webhook endpoints and exposes the outbox for inspection.
type Service interface {
	CreateEndpoint(ctx context.Context, req CreateEndpointRequest) (Endpoint, error)
	UpdateEndpoint(ctx context.Context, req UpdateEndpointRequest) (Endpoint, error)
	DeleteEndpoint(ctx context.Context, id string) error
	GetEndpoint(ctx context.Context, req GetEndpointRequest) (Endpoint, error)
	ListEndpoints(ctx context.Context, req ListEndpointRequest) (ListEndpointResponse, error)
	ListEvents(ctx context.Context, req ListEventRequest) (ListEventResponse, error)
}

// Emitter fans one event out to every matching endpoint, writing outbox rows
// on the supplied handle. Callers pass their open transaction so the rows
// commit or roll back with the state change that produced the event.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, eventType string, payload datatypes.JSONMap) error
}

var (
	ErrInvalidID     = errors.New("invalid_endpoint_id")
	ErrInvalidURL    = errors.New("invalid_endpoint_url")
	ErrInvalidEvents = errors.New("invalid_endpoint_events")
	ErrInvalidStatus = errors.New("invalid_event_status")
	ErrNotFound      = errors.New("endpoint_not_found")
)
