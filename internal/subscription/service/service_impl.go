package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/recurhq/recur/internal/account/domain"
	"github.com/recurhq/recur/internal/clock"
	obsmetrics "github.com/recurhq/recur/internal/observability/metrics"
	plandomain "github.com/recurhq/recur/internal/plan/domain"
	"github.com/recurhq/recur/internal/subscription/domain"
	webhookdomain "github.com/recurhq/recur/internal/webhook/domain"
	"github.com/recurhq/recur/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	AccountRepo accountdomain.Repository
	PlanRepo    plandomain.Repository
	Outbox      webhookdomain.Emitter
	Prorator    domain.ProrationInvoicer
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	accountRepo accountdomain.Repository
	planRepo    plandomain.Repository
	outbox      webhookdomain.Emitter
	prorator    domain.ProrationInvoicer
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("subscription.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
		planRepo:    p.PlanRepo,
		outbox:      p.Outbox,
		prorator:    p.Prorator,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateSubscriptionRequest) (domain.Subscription, error) {
	accountID, err := parseID(req.AccountID, domain.ErrInvalidAccountID)
	if err != nil {
		return domain.Subscription{}, err
	}
	planID, err := parseID(req.PlanID, domain.ErrInvalidPlanID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if req.Quantity < 1 {
		return domain.Subscription{}, domain.ErrInvalidQuantity
	}

	account, err := s.accountRepo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if account == nil || account.DeletedAt != nil {
		return domain.Subscription{}, domain.ErrAccountNotFound
	}
	if account.Blocked() {
		return domain.Subscription{}, domain.ErrAccountBlocked
	}

	plan, err := s.planRepo.FindByID(ctx, s.db, planID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if plan == nil || !plan.Active {
		return domain.Subscription{}, domain.ErrInvalidPlan
	}
	if plan.Currency != account.Currency {
		return domain.Subscription{}, domain.ErrCurrencyMismatch
	}

	now := s.clock.Now()
	subscription := domain.Subscription{
		ID:                 s.genID.Generate(),
		AccountID:          accountID,
		PlanID:             plan.ID,
		Status:             domain.StatusActive,
		Quantity:           req.Quantity,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.Add(plan.Interval.PeriodDuration()),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if trialEnd := resolveTrialEnd(now, plan.TrialDays, req.TrialEnd); trialEnd != nil {
		subscription.Status = domain.StatusTrialing
		subscription.TrialEnd = trialEnd
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &subscription); err != nil {
			return err
		}
		if err := s.repo.InsertHistory(ctx, tx, s.historyRow(subscription.ID, domain.HistoryCreated, nil, string(subscription.Status), nil, now)); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, "subscription.created", subscriptionPayload(&subscription))
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	obsmetrics.Engine().RecordSubscriptionTransition("new", string(subscription.Status))
	s.log.Info("subscription created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("account_id", accountID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.String("status", string(subscription.Status)),
	)
	return subscription, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateSubscriptionRequest) (domain.Subscription, error) {
	id, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if req.Quantity != nil && *req.Quantity < 1 {
		return domain.Subscription{}, domain.ErrInvalidQuantity
	}

	var result domain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return domain.ErrNotFound
		}
		if subscription.Status == domain.StatusCancelled {
			return domain.ErrIllegalTransition
		}

		now := s.clock.Now()
		changed := false

		if req.Quantity != nil && *req.Quantity != subscription.Quantity {
			oldValue := strconv.FormatInt(int64(subscription.Quantity), 10)
			subscription.Quantity = *req.Quantity
			row := s.historyRow(subscription.ID, domain.HistoryQuantityChanged, &oldValue, strconv.FormatInt(int64(subscription.Quantity), 10), nil, now)
			if err := s.repo.InsertHistory(ctx, tx, row); err != nil {
				return err
			}
			changed = true
		}

		if req.CancelAtPeriodEnd != nil && *req.CancelAtPeriodEnd != subscription.CancelAtPeriodEnd {
			subscription.CancelAtPeriodEnd = *req.CancelAtPeriodEnd
			eventType := domain.HistoryCancelUnscheduled
			if subscription.CancelAtPeriodEnd {
				subscription.CancelledAt = &now
				eventType = domain.HistoryCancelScheduled
			} else {
				subscription.CancelledAt = nil
			}
			row := s.historyRow(subscription.ID, eventType, nil, subscription.CurrentPeriodEnd.UTC().Format(time.RFC3339), nil, now)
			if err := s.repo.InsertHistory(ctx, tx, row); err != nil {
				return err
			}
			changed = true
		}

		if changed {
			subscription.UpdatedAt = now
			if err := s.repo.UpdateLifecycle(ctx, tx, subscription); err != nil {
				return err
			}
			if err := s.outbox.Emit(ctx, tx, "subscription.updated", subscriptionPayload(subscription)); err != nil {
				return err
			}
		}
		result = *subscription
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return result, nil
}

func (s *Service) Cancel(ctx context.Context, req domain.CancelSubscriptionRequest) (domain.Subscription, error) {
	id, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return domain.Subscription{}, err
	}

	if req.Immediate {
		return s.Transition(ctx, id, domain.StatusCancelled, domain.ReasonRequested)
	}

	var result domain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return domain.ErrNotFound
		}
		if subscription.Status == domain.StatusCancelled {
			result = *subscription
			return nil
		}
		if subscription.CancelAtPeriodEnd {
			result = *subscription
			return nil
		}

		now := s.clock.Now()
		subscription.CancelAtPeriodEnd = true
		subscription.CancelledAt = &now
		subscription.UpdatedAt = now
		if err := s.repo.UpdateLifecycle(ctx, tx, subscription); err != nil {
			return err
		}
		row := s.historyRow(subscription.ID, domain.HistoryCancelScheduled, nil, subscription.CurrentPeriodEnd.UTC().Format(time.RFC3339), req.Reason, now)
		if err := s.repo.InsertHistory(ctx, tx, row); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, "subscription.updated", subscriptionPayload(subscription)); err != nil {
			return err
		}
		result = *subscription
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	s.log.Info("subscription cancel scheduled",
		zap.String("subscription_id", id.String()),
		zap.Time("effective_at", result.CurrentPeriodEnd),
	)
	return result, nil
}

func (s *Service) Pause(ctx context.Context, req domain.PauseSubscriptionRequest) (domain.Subscription, error) {
	id, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if req.ResumesAt != nil && !req.ResumesAt.After(s.clock.Now()) {
		return domain.Subscription{}, domain.ErrInvalidResumesAt
	}

	var result domain.Subscription
	var from domain.Status
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return domain.ErrNotFound
		}
		if subscription.Status == domain.StatusPaused {
			result = *subscription
			return nil
		}
		from = subscription.Status
		subscription.PauseResumesAt = req.ResumesAt
		if err := s.transitionLocked(ctx, tx, subscription, domain.StatusPaused, domain.ReasonRequested, s.clock.Now()); err != nil {
			return err
		}
		result = *subscription
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	if from != "" {
		obsmetrics.Engine().RecordSubscriptionTransition(string(from), string(domain.StatusPaused))
	}
	return result, nil
}

func (s *Service) Resume(ctx context.Context, req domain.ResumeSubscriptionRequest) (domain.Subscription, error) {
	id, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return domain.Subscription{}, err
	}

	var result domain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return domain.ErrNotFound
		}
		if subscription.Status != domain.StatusPaused {
			return domain.ErrIllegalTransition
		}
		if err := s.transitionLocked(ctx, tx, subscription, domain.StatusActive, domain.ReasonRequested, s.clock.Now()); err != nil {
			return err
		}
		result = *subscription
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	obsmetrics.Engine().RecordSubscriptionTransition(string(domain.StatusPaused), string(domain.StatusActive))
	return result, nil
}

func (s *Service) ChangePlan(ctx context.Context, req domain.ChangePlanRequest) (domain.Subscription, error) {
	id, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return domain.Subscription{}, err
	}
	newPlanID, err := parseID(req.NewPlanID, domain.ErrInvalidPlanID)
	if err != nil {
		return domain.Subscription{}, err
	}
	timing := req.Timing
	if timing != domain.ChangeImmediate && timing != domain.ChangeAtPeriodEnd {
		return domain.Subscription{}, domain.ErrInvalidTiming
	}
	if req.NewQuantity != nil && *req.NewQuantity < 1 {
		return domain.Subscription{}, domain.ErrInvalidQuantity
	}

	var result domain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return domain.ErrNotFound
		}
		if subscription.Status == domain.StatusPaused || subscription.Status == domain.StatusCancelled {
			return domain.ErrIllegalTransition
		}

		account, err := s.accountRepo.FindByID(ctx, tx, subscription.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return domain.ErrAccountNotFound
		}
		if account.Blocked() {
			return domain.ErrAccountBlocked
		}

		newPlan, err := s.planRepo.FindByID(ctx, tx, newPlanID)
		if err != nil {
			return err
		}
		if newPlan == nil || !newPlan.Active {
			return domain.ErrInvalidPlan
		}
		if newPlan.Currency != account.Currency {
			return domain.ErrCurrencyMismatch
		}
		if newPlan.ID == subscription.PlanID {
			return domain.ErrSamePlan
		}

		now := s.clock.Now()
		if timing == domain.ChangeImmediate {
			return s.applyPlanChange(ctx, tx, subscription, newPlan.ID, req.NewQuantity, now, true)
		}

		subscription.PendingPlanID = &newPlan.ID
		subscription.PendingQuantity = req.NewQuantity
		subscription.UpdatedAt = now
		if err := s.repo.UpdateLifecycle(ctx, tx, subscription); err != nil {
			return err
		}
		oldValue := subscription.PlanID.String()
		row := s.historyRow(subscription.ID, domain.HistoryPlanChangeScheduled, &oldValue, newPlan.ID.String(), nil, now)
		if err := s.repo.InsertHistory(ctx, tx, row); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, "subscription.updated", subscriptionPayload(subscription)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	updated, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if updated != nil {
		result = *updated
	}
	s.log.Info("subscription plan change",
		zap.String("subscription_id", id.String()),
		zap.String("new_plan_id", newPlanID.String()),
		zap.String("timing", string(timing)),
	)
	return result, nil
}

func (s *Service) ApplyPendingPlanChange(ctx context.Context, id snowflake.ID) (domain.Subscription, error) {
	var result domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return domain.ErrNotFound
		}
		result = *subscription
		if subscription.PendingPlanID == nil {
			return nil
		}
		now := s.clock.Now()
		if subscription.CurrentPeriodEnd.After(now) {
			return nil
		}
		if !subscription.Status.Billable() || subscription.CancelAtPeriodEnd {
			return nil
		}
		if err := s.applyPlanChange(ctx, tx, subscription, *subscription.PendingPlanID, subscription.PendingQuantity, now, false); err != nil {
			return err
		}
		result = *subscription
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return result, nil
}

// applyPlanChange swaps the plan on a row already locked by the caller. When
// prorate is set and a paid period is running, the proration invoice is
// written on the same transaction as the swap.
func (s *Service) applyPlanChange(ctx context.Context, tx *gorm.DB, subscription *domain.Subscription, newPlanID snowflake.ID, newQuantity *int32, now time.Time, prorate bool) error {
	oldPlanID := subscription.PlanID
	oldQuantity := subscription.Quantity

	subscription.PlanID = newPlanID
	if newQuantity != nil {
		subscription.Quantity = *newQuantity
	}
	subscription.PendingPlanID = nil
	subscription.PendingQuantity = nil
	subscription.UpdatedAt = now
	if err := s.repo.UpdateLifecycle(ctx, tx, subscription); err != nil {
		return err
	}

	oldValue := oldPlanID.String()
	row := s.historyRow(subscription.ID, domain.HistoryPlanChanged, &oldValue, newPlanID.String(), nil, now)
	if err := s.repo.InsertHistory(ctx, tx, row); err != nil {
		return err
	}
	if subscription.Quantity != oldQuantity {
		oldQty := strconv.FormatInt(int64(oldQuantity), 10)
		qtyRow := s.historyRow(subscription.ID, domain.HistoryQuantityChanged, &oldQty, strconv.FormatInt(int64(subscription.Quantity), 10), nil, now)
		if err := s.repo.InsertHistory(ctx, tx, qtyRow); err != nil {
			return err
		}
	}

	if prorate && (subscription.Status == domain.StatusActive || subscription.Status == domain.StatusPastDue) {
		input := domain.ProrationInvoiceInput{
			Subscription: subscription,
			OldPlanID:    oldPlanID,
			OldQuantity:  oldQuantity,
			ChangeAt:     now,
		}
		if _, err := s.prorator.CreateProrationInvoice(ctx, tx, input); err != nil {
			return err
		}
	}

	return s.outbox.Emit(ctx, tx, "subscription.plan_changed", subscriptionPayload(subscription))
}

func (s *Service) GetByID(ctx context.Context, req domain.GetSubscriptionRequest) (domain.Subscription, error) {
	id, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return domain.Subscription{}, err
	}
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if subscription == nil {
		return domain.Subscription{}, domain.ErrNotFound
	}
	return *subscription, nil
}

func (s *Service) List(ctx context.Context, req domain.ListSubscriptionRequest) (domain.ListSubscriptionResponse, error) {
	filter := domain.ListSubscriptionFilter{}
	if strings.TrimSpace(req.AccountID) != "" {
		accountID, err := parseID(req.AccountID, domain.ErrInvalidAccountID)
		if err != nil {
			return domain.ListSubscriptionResponse{}, err
		}
		filter.AccountID = int64(accountID)
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		parsed := domain.Status(strings.ToLower(status))
		if !parsed.Valid() {
			return domain.ListSubscriptionResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = &parsed
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
		return domain.ListSubscriptionResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(subscription *domain.Subscription) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        subscription.ID.String(),
			CreatedAt: subscription.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	subscriptions := make([]domain.Subscription, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		subscriptions = append(subscriptions, *item)
	}

	resp := domain.ListSubscriptionResponse{Subscriptions: subscriptions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) ListHistory(ctx context.Context, req domain.ListHistoryRequest) (domain.ListHistoryResponse, error) {
	id, err := parseID(req.SubscriptionID, domain.ErrInvalidID)
	if err != nil {
		return domain.ListHistoryResponse{}, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.ListHistory(ctx, s.db, id, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListHistoryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(row *domain.SubscriptionHistory) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        row.ID.String(),
			CreatedAt: row.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	history := make([]domain.SubscriptionHistory, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		history = append(history, *item)
	}

	resp := domain.ListHistoryResponse{History: history}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Transition(ctx context.Context, id snowflake.ID, target domain.Status, reason domain.TransitionReason) (domain.Subscription, error) {
	if !target.Valid() {
		return domain.Subscription{}, domain.ErrInvalidStatus
	}

	var result domain.Subscription
	var from domain.Status
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return domain.ErrNotFound
		}
		if subscription.Status == target {
			result = *subscription
			return nil
		}
		from = subscription.Status
		if err := s.transitionLocked(ctx, tx, subscription, target, reason, s.clock.Now()); err != nil {
			return err
		}
		result = *subscription
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	if from != "" {
		obsmetrics.Engine().RecordSubscriptionTransition(string(from), string(target))
	}
	return result, nil
}

// transitionLocked applies a status change to a row the caller holds a lock
// on: state-machine check, per-target side effects, lifecycle update,
// history row, and outbox event, all on the caller's transaction.
func (s *Service) transitionLocked(ctx context.Context, tx *gorm.DB, subscription *domain.Subscription, target domain.Status, reason domain.TransitionReason, now time.Time) error {
	from := subscription.Status
	if !from.CanTransition(target) {
		return domain.ErrIllegalTransition
	}

	switch target {
	case domain.StatusPaused:
		subscription.PausedAt = &now
	case domain.StatusActive:
		if from == domain.StatusPaused {
			if subscription.PausedAt != nil {
				if pauseDuration := now.Sub(*subscription.PausedAt); pauseDuration > 0 {
					subscription.CurrentPeriodEnd = subscription.CurrentPeriodEnd.Add(pauseDuration)
				}
			}
			subscription.PausedAt = nil
			subscription.PauseResumesAt = nil
		}
		if from == domain.StatusTrialing {
			// The trial window is free; the first paid period opens at
			// conversion and bills when it closes.
			plan, err := s.planRepo.FindByID(ctx, tx, subscription.PlanID)
			if err != nil {
				return err
			}
			if plan == nil {
				return domain.ErrInvalidPlan
			}
			subscription.CurrentPeriodStart = now
			subscription.CurrentPeriodEnd = now.Add(plan.Interval.PeriodDuration())
		}
	case domain.StatusCancelled:
		subscription.CancelledAt = &now
		subscription.PauseResumesAt = nil
		subscription.PendingPlanID = nil
		subscription.PendingQuantity = nil
	}

	subscription.Status = target
	subscription.UpdatedAt = now
	if err := s.repo.UpdateLifecycle(ctx, tx, subscription); err != nil {
		return err
	}

	oldValue := string(from)
	reasonValue := string(reason)
	row := s.historyRow(subscription.ID, domain.HistoryStatusChanged, &oldValue, string(target), &reasonValue, now)
	if err := s.repo.InsertHistory(ctx, tx, row); err != nil {
		return err
	}

	eventType := "subscription.updated"
	switch {
	case target == domain.StatusCancelled:
		eventType = "subscription.cancelled"
	case target == domain.StatusPaused:
		eventType = "subscription.paused"
	case target == domain.StatusActive && from == domain.StatusPaused:
		eventType = "subscription.resumed"
	}
	return s.outbox.Emit(ctx, tx, eventType, subscriptionPayload(subscription))
}

func (s *Service) historyRow(subscriptionID snowflake.ID, eventType string, oldValue *string, newValue string, reason *string, at time.Time) *domain.SubscriptionHistory {
	return &domain.SubscriptionHistory{
		ID:             s.genID.Generate(),
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		OldValue:       oldValue,
		NewValue:       newValue,
		Reason:         reason,
		CreatedAt:      at,
	}
}

func subscriptionPayload(subscription *domain.Subscription) datatypes.JSONMap {
	return datatypes.JSONMap{
		"subscription_id": subscription.ID.String(),
		"account_id":      subscription.AccountID.String(),
		"plan_id":         subscription.PlanID.String(),
		"status":          string(subscription.Status),
		"quantity":        subscription.Quantity,
	}
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

// resolveTrialEnd picks the later of the caller-supplied trial end and the
// plan's trial window. A result not in the future means no trial at all.
func resolveTrialEnd(now time.Time, trialDays int, provided *time.Time) *time.Time {
	if trialDays <= 0 && provided == nil {
		return nil
	}
	end := now.Add(time.Duration(trialDays) * 24 * time.Hour)
	if provided != nil && provided.After(end) {
		end = *provided
	}
	if !end.After(now) {
		return nil
	}
	return &end
}
