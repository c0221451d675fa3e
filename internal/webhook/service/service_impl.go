package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/webhook/domain"
	"github.com/recurhq/recur/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("webhook.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) CreateEndpoint(ctx context.Context, req domain.CreateEndpointRequest) (domain.Endpoint, error) {
	target, err := normalizeURL(req.URL)
	if err != nil {
		return domain.Endpoint{}, err
	}
	events, err := normalizeEvents(req.Events)
	if err != nil {
		return domain.Endpoint{}, err
	}

	now := s.clock.Now()
	endpoint := domain.Endpoint{
		ID:        s.genID.Generate(),
		URL:       target,
		Events:    events,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertEndpoint(ctx, s.db, &endpoint); err != nil {
		return domain.Endpoint{}, err
	}

	s.log.Info("webhook endpoint registered",
		zap.String("endpoint_id", endpoint.ID.String()),
		zap.Strings("events", events),
	)
	return endpoint, nil
}

func (s *Service) UpdateEndpoint(ctx context.Context, req domain.UpdateEndpointRequest) (domain.Endpoint, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.Endpoint{}, err
	}

	endpoint, err := s.repo.FindEndpointByID(ctx, s.db, id)
	if err != nil {
		return domain.Endpoint{}, err
	}
	if endpoint == nil {
		return domain.Endpoint{}, domain.ErrNotFound
	}

	if req.URL != nil {
		target, err := normalizeURL(*req.URL)
		if err != nil {
			return domain.Endpoint{}, err
		}
		endpoint.URL = target
	}
	if req.Events != nil {
		events, err := normalizeEvents(req.Events)
		if err != nil {
			return domain.Endpoint{}, err
		}
		endpoint.Events = events
	}
	if req.Active != nil {
		endpoint.Active = *req.Active
	}
	endpoint.UpdatedAt = s.clock.Now()

	if err := s.repo.UpdateEndpoint(ctx, s.db, endpoint); err != nil {
		return domain.Endpoint{}, err
	}
	return *endpoint, nil
}

func (s *Service) DeleteEndpoint(ctx context.Context, rawID string) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	affected, err := s.repo.DeleteEndpoint(ctx, s.db, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	s.log.Info("webhook endpoint removed", zap.String("endpoint_id", id.String()))
	return nil
}

func (s *Service) GetEndpoint(ctx context.Context, req domain.GetEndpointRequest) (domain.Endpoint, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.Endpoint{}, err
	}
	endpoint, err := s.repo.FindEndpointByID(ctx, s.db, id)
	if err != nil {
		return domain.Endpoint{}, err
	}
	if endpoint == nil {
		return domain.Endpoint{}, domain.ErrNotFound
	}
	return *endpoint, nil
}

func (s *Service) ListEndpoints(ctx context.Context, req domain.ListEndpointRequest) (domain.ListEndpointResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.ListEndpoints(ctx, s.db, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListEndpointResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(endpoint *domain.Endpoint) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        endpoint.ID.String(),
			CreatedAt: endpoint.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	endpoints := make([]domain.Endpoint, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		endpoints = append(endpoints, *item)
	}

	resp := domain.ListEndpointResponse{Endpoints: endpoints}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) ListEvents(ctx context.Context, req domain.ListEventRequest) (domain.ListEventResponse, error) {
	filter := domain.ListEventFilter{
		EventType: strings.TrimSpace(req.EventType),
	}
	if strings.TrimSpace(req.EndpointID) != "" {
		id, err := parseID(req.EndpointID)
		if err != nil {
			return domain.ListEventResponse{}, err
		}
		filter.EndpointID = int64(id)
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		parsed, err := parseEventStatus(status)
		if err != nil {
			return domain.ListEventResponse{}, err
		}
		filter.Status = parsed
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.ListEvents(ctx, s.db, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListEventResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(event *domain.Event) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        event.ID.String(),
			CreatedAt: event.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	events := make([]domain.Event, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		events = append(events, *item)
	}

	resp := domain.ListEventResponse{Events: events}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func parseEventStatus(value string) (*domain.EventStatus, error) {
	status := domain.EventStatus(strings.ToLower(strings.TrimSpace(value)))
	switch status {
	case domain.EventStatusPending,
		domain.EventStatusProcessing,
		domain.EventStatusDelivered,
		domain.EventStatusFailed:
		return &status, nil
	default:
		return nil, domain.ErrInvalidStatus
	}
}

func normalizeURL(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", domain.ErrInvalidURL
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", domain.ErrInvalidURL
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", domain.ErrInvalidURL
	}
	return trimmed, nil
}

// normalizeEvents lowercases and dedupes the subscription patterns. Each
// entry must be "*", an exact type ("invoice.paid"), or a category wildcard
// ("invoice.*").
func normalizeEvents(values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, domain.ErrInvalidEvents
	}
	seen := make(map[string]struct{}, len(values))
	events := make([]string, 0, len(values))
	for _, value := range values {
		entry := strings.ToLower(strings.TrimSpace(value))
		if entry == "" {
			return nil, domain.ErrInvalidEvents
		}
		if entry != "*" {
			category, name, found := strings.Cut(entry, ".")
			if !found || category == "" || name == "" {
				return nil, domain.ErrInvalidEvents
			}
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		events = append(events, entry)
	}
	return events, nil
}
