package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/cache"
	"github.com/recurhq/recur/internal/clock"
	obsmetrics "github.com/recurhq/recur/internal/observability/metrics"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	"github.com/recurhq/recur/internal/usage/domain"
	"github.com/recurhq/recur/internal/usage/liveevents"
	"github.com/recurhq/recur/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Repo             domain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	Resolver         cache.ResolverCache
	Hub              *liveevents.Hub
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	clock            clock.Clock
	repo             domain.Repository
	subscriptionRepo subscriptiondomain.Repository
	resolver         cache.ResolverCache
	hub              *liveevents.Hub
}

func New(p Params) domain.Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("usage.service"),
		genID:            p.GenID,
		clock:            p.Clock,
		repo:             p.Repo,
		subscriptionRepo: p.SubscriptionRepo,
		resolver:         p.Resolver,
		hub:              p.Hub,
	}
}

func (s *Service) Record(ctx context.Context, req domain.RecordUsageRequest) (domain.UsageRecord, error) {
	subscriptionID, err := parseID(req.SubscriptionID, domain.ErrInvalidID)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	metric := strings.TrimSpace(req.Metric)
	if metric == "" {
		return domain.UsageRecord{}, domain.ErrInvalidMetric
	}
	if req.Quantity <= 0 {
		return domain.UsageRecord{}, domain.ErrInvalidQuantity
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return domain.UsageRecord{}, domain.ErrInvalidKey
	}

	now := s.clock.Now().UTC()
	recordedAt := now
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		recordedAt = req.Timestamp.UTC()
	}

	// Replay check runs before the subscription gate: a key accepted while
	// the subscription was billable must keep answering with the stored row
	// even after a pause or cancel.
	existing, err := s.repo.FindByKey(ctx, s.db, key)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	if existing != nil {
		s.publish(*existing, liveevents.StatusDeduplicated)
		obsmetrics.Engine().RecordUsageEvent("deduplicated")
		return *existing, nil
	}

	subscription, err := s.resolveSubscription(ctx, subscriptionID)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	if subscription == nil {
		return domain.UsageRecord{}, domain.ErrSubscriptionNotFound
	}
	if !subscription.Status.Billable() {
		obsmetrics.Engine().RecordUsageEvent("rejected")
		return domain.UsageRecord{}, domain.ErrSubscriptionInactive
	}

	record := domain.UsageRecord{
		ID:             s.genID.Generate(),
		SubscriptionID: subscriptionID,
		Metric:         metric,
		Quantity:       req.Quantity,
		RecordedAt:     recordedAt,
		IdempotencyKey: key,
		ReceivedAt:     now,
		Status:         domain.RecordStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	inserted, err := s.repo.Insert(ctx, s.db, &record)
	if err != nil {
		return domain.UsageRecord{}, err
	}
	if !inserted {
		// Lost the insert race; the winner's row is authoritative.
		existing, err = s.repo.FindByKey(ctx, s.db, key)
		if err != nil {
			return domain.UsageRecord{}, err
		}
		if existing == nil {
			return domain.UsageRecord{}, gorm.ErrRecordNotFound
		}
		s.publish(*existing, liveevents.StatusDeduplicated)
		obsmetrics.Engine().RecordUsageEvent("deduplicated")
		return *existing, nil
	}

	s.publish(record, liveevents.StatusAccepted)
	obsmetrics.Engine().RecordUsageEvent("accepted")
	return record, nil
}

func (s *Service) Aggregate(ctx context.Context, req domain.AggregateUsageRequest) (domain.AggregateUsageResponse, error) {
	subscriptionID, err := parseID(req.SubscriptionID, domain.ErrInvalidID)
	if err != nil {
		return domain.AggregateUsageResponse{}, err
	}
	if req.From.IsZero() || req.To.IsZero() || !req.To.After(req.From) {
		return domain.AggregateUsageResponse{}, domain.ErrInvalidWindow
	}

	subscription, err := s.resolveSubscription(ctx, subscriptionID)
	if err != nil {
		return domain.AggregateUsageResponse{}, err
	}
	if subscription == nil {
		return domain.AggregateUsageResponse{}, domain.ErrSubscriptionNotFound
	}

	totals, err := s.repo.SumForPeriod(ctx, s.db, subscriptionID, strings.TrimSpace(req.Metric), req.From.UTC(), req.To.UTC())
	if err != nil {
		return domain.AggregateUsageResponse{}, err
	}

	return domain.AggregateUsageResponse{
		SubscriptionID: subscriptionID.String(),
		From:           req.From.UTC(),
		To:             req.To.UTC(),
		Totals:         totals,
	}, nil
}

func (s *Service) List(ctx context.Context, req domain.ListUsageRequest) (domain.ListUsageResponse, error) {
	filter := domain.ListUsageFilter{Metric: strings.TrimSpace(req.Metric)}
	if strings.TrimSpace(req.SubscriptionID) != "" {
		subscriptionID, err := parseID(req.SubscriptionID, domain.ErrInvalidID)
		if err != nil {
			return domain.ListUsageResponse{}, err
		}
		filter.SubscriptionID = int64(subscriptionID)
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		normalized := strings.ToLower(status)
		switch normalized {
		case domain.RecordStatusPending, domain.RecordStatusBilled, domain.RecordStatusDropped:
			filter.Status = normalized
		default:
			return domain.ListUsageResponse{}, domain.ErrInvalidStatus
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListUsageResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *domain.UsageRecord) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        record.ID.String(),
			CreatedAt: record.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	records := make([]domain.UsageRecord, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}

	resp := domain.ListUsageResponse{UsageRecords: records}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) resolveSubscription(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if cached, ok := s.resolver.GetSubscription(ctx, id.String()); ok {
		return &cached, nil
	}
	subscription, err := s.subscriptionRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, nil
	}
	s.resolver.SetSubscription(ctx, *subscription)
	return subscription, nil
}

func (s *Service) publish(record domain.UsageRecord, status string) {
	s.hub.Publish(record.Metric, liveevents.LiveEvent{
		Metric:         record.Metric,
		SubscriptionID: record.SubscriptionID.String(),
		Quantity:       record.Quantity,
		RecordedAt:     record.RecordedAt.UTC().Format(time.RFC3339Nano),
		IdempotencyKey: record.IdempotencyKey,
		Status:         status,
		Source:         liveevents.SourceAPI,
	})
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, invalidErr
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || parsed <= 0 {
		return 0, invalidErr
	}
	return snowflake.ID(parsed), nil
}
