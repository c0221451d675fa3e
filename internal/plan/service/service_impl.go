package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/plan/domain"
	"github.com/recurhq/recur/pkg/db"
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
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreatePlanRequest) (domain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Plan{}, domain.ErrInvalidName
	}

	interval := domain.Interval(strings.ToLower(strings.TrimSpace(req.Interval)))
	if !interval.Valid() {
		return domain.Plan{}, domain.ErrInvalidInterval
	}
	if req.Amount < 0 {
		return domain.Plan{}, domain.ErrInvalidAmount
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return domain.Plan{}, err
	}
	if req.TrialDays < 0 {
		return domain.Plan{}, domain.ErrInvalidTrialDays
	}

	usageType, err := parseUsageType(req.UsageType)
	if err != nil {
		return domain.Plan{}, err
	}

	var tiers []domain.TierInput
	if usageType != nil {
		tiers, err = normalizeTiers(req.Tiers)
		if err != nil {
			return domain.Plan{}, err
		}
	} else if len(req.Tiers) > 0 {
		return domain.Plan{}, domain.ErrInvalidTiers
	}

	now := s.clock.Now()
	plan := domain.Plan{
		ID:        s.genID.Generate(),
		Code:      slug.Make(name),
		Name:      name,
		Interval:  interval,
		Amount:    req.Amount,
		Currency:  currency,
		TrialDays: req.TrialDays,
		UsageType: usageType,
		Active:    true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tierRows := buildTierRows(s.genID, plan.ID, tiers, now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &plan); err != nil {
			return err
		}
		return s.repo.InsertTiers(ctx, tx, tierRows)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Plan{}, domain.ErrCodeTaken
		}
		return domain.Plan{}, err
	}

	plan.Tiers = tierRows
	s.log.Info("plan created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("code", plan.Code),
		zap.String("interval", string(plan.Interval)),
		zap.Int64("amount", plan.Amount),
	)
	return plan, nil
}

func (s *Service) CreateVersion(ctx context.Context, req domain.CreateVersionRequest) (domain.Plan, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.Plan{}, err
	}

	old, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Plan{}, err
	}
	if old == nil {
		return domain.Plan{}, domain.ErrNotFound
	}

	name := old.Name
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Plan{}, domain.ErrInvalidName
		}
	}
	amount := old.Amount
	if req.Amount != nil {
		if *req.Amount < 0 {
			return domain.Plan{}, domain.ErrInvalidAmount
		}
		amount = *req.Amount
	}
	trialDays := old.TrialDays
	if req.TrialDays != nil {
		if *req.TrialDays < 0 {
			return domain.Plan{}, domain.ErrInvalidTrialDays
		}
		trialDays = *req.TrialDays
	}
	usageType := old.UsageType
	if req.UsageType != nil {
		usageType, err = parseUsageType(req.UsageType)
		if err != nil {
			return domain.Plan{}, err
		}
	}

	var tiers []domain.TierInput
	switch {
	case usageType == nil:
		if len(req.Tiers) > 0 {
			return domain.Plan{}, domain.ErrInvalidTiers
		}
	case req.Tiers != nil:
		tiers, err = normalizeTiers(req.Tiers)
		if err != nil {
			return domain.Plan{}, err
		}
	default:
		// usage plan without replacement tiers carries the old bands over
		oldTiers, err := s.repo.FindTiers(ctx, s.db, old.ID)
		if err != nil {
			return domain.Plan{}, err
		}
		for _, tier := range oldTiers {
			tiers = append(tiers, domain.TierInput{UpTo: tier.UpTo, UnitAmount: tier.UnitAmount})
		}
		tiers, err = normalizeTiers(tiers)
		if err != nil {
			return domain.Plan{}, err
		}
	}

	now := s.clock.Now()
	plan := domain.Plan{
		ID:        s.genID.Generate(),
		Code:      old.Code,
		Name:      name,
		Interval:  old.Interval,
		Amount:    amount,
		Currency:  old.Currency,
		TrialDays: trialDays,
		UsageType: usageType,
		Active:    true,
		Version:   old.Version + 1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tierRows := buildTierRows(s.genID, plan.ID, tiers, now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &plan); err != nil {
			return err
		}
		if err := s.repo.InsertTiers(ctx, tx, tierRows); err != nil {
			return err
		}
		_, err := s.repo.Deactivate(ctx, tx, old.ID, now)
		return err
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Plan{}, domain.ErrVersionConflict
		}
		return domain.Plan{}, err
	}

	plan.Tiers = tierRows
	s.log.Info("plan version created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("replaces", old.ID.String()),
		zap.String("code", plan.Code),
		zap.Int32("version", plan.Version),
	)
	return plan, nil
}

func (s *Service) Archive(ctx context.Context, id string) (domain.Plan, error) {
	planID, err := parseID(id)
	if err != nil {
		return domain.Plan{}, err
	}

	plan, err := s.repo.FindByID(ctx, s.db, planID)
	if err != nil {
		return domain.Plan{}, err
	}
	if plan == nil {
		return domain.Plan{}, domain.ErrNotFound
	}
	if !plan.Active {
		return s.withTiers(ctx, *plan)
	}

	now := s.clock.Now()
	affected, err := s.repo.Deactivate(ctx, s.db, planID, now)
	if err != nil {
		return domain.Plan{}, err
	}
	if affected > 0 {
		plan.Active = false
		plan.UpdatedAt = now
		s.log.Info("plan archived",
			zap.String("plan_id", plan.ID.String()),
			zap.String("code", plan.Code),
		)
	}
	return s.withTiers(ctx, *plan)
}

func (s *Service) GetByID(ctx context.Context, req domain.GetPlanRequest) (domain.Plan, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.Plan{}, err
	}

	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Plan{}, err
	}
	if plan == nil {
		return domain.Plan{}, domain.ErrNotFound
	}
	return s.withTiers(ctx, *plan)
}

func (s *Service) List(ctx context.Context, req domain.ListPlanRequest) (domain.ListPlanResponse, error) {
	filter := domain.ListPlanFilter{
		Code:     strings.ToLower(strings.TrimSpace(req.Code)),
		Interval: strings.ToLower(strings.TrimSpace(req.Interval)),
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Active:   req.Active,
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
		return domain.ListPlanResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(plan *domain.Plan) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        plan.ID.String(),
			CreatedAt: plan.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	plans := make([]domain.Plan, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		plans = append(plans, *item)
	}

	resp := domain.ListPlanResponse{Plans: plans}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) withTiers(ctx context.Context, plan domain.Plan) (domain.Plan, error) {
	if !plan.Metered() {
		return plan, nil
	}
	tiers, err := s.repo.FindTiers(ctx, s.db, plan.ID)
	if err != nil {
		return domain.Plan{}, err
	}
	plan.Tiers = tiers
	return plan, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func parseUsageType(value *string) (*domain.UsageType, error) {
	if value == nil {
		return nil, nil
	}
	switch domain.UsageType(strings.ToLower(strings.TrimSpace(*value))) {
	case "":
		return nil, nil
	case domain.UsageTypeGraduated, domain.UsageTypeTiered:
		ut := domain.UsageTypeGraduated
		return &ut, nil
	case domain.UsageTypeVolume:
		ut := domain.UsageTypeVolume
		return &ut, nil
	default:
		return nil, domain.ErrInvalidUsageType
	}
}

// normalizeTiers orders bands ascending with the unbounded band last and
// rejects overlaps, non-positive bounds, and negative rates.
func normalizeTiers(tiers []domain.TierInput) ([]domain.TierInput, error) {
	if len(tiers) == 0 {
		return nil, domain.ErrInvalidTiers
	}

	sorted := make([]domain.TierInput, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].UpTo, sorted[j].UpTo
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return *a < *b
	})

	var prev int64
	for i, tier := range sorted {
		if tier.UnitAmount < 0 {
			return nil, domain.ErrInvalidTiers
		}
		if tier.UpTo == nil {
			if i != len(sorted)-1 {
				return nil, domain.ErrInvalidTiers
			}
			continue
		}
		if *tier.UpTo <= prev {
			return nil, domain.ErrInvalidTiers
		}
		prev = *tier.UpTo
	}
	return sorted, nil
}

func buildTierRows(genID *snowflake.Node, planID snowflake.ID, tiers []domain.TierInput, at time.Time) []domain.PlanTier {
	rows := make([]domain.PlanTier, 0, len(tiers))
	for i, tier := range tiers {
		rows = append(rows, domain.PlanTier{
			ID:         genID.Generate(),
			PlanID:     planID,
			Position:   i,
			UpTo:       tier.UpTo,
			UnitAmount: tier.UnitAmount,
			CreatedAt:  at,
		})
	}
	return rows
}

func normalizeCurrency(value string) (string, error) {
	currency := strings.ToUpper(strings.TrimSpace(value))
	if len(currency) != 3 {
		return "", domain.ErrInvalidCurrency
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return "", domain.ErrInvalidCurrency
		}
	}
	return currency, nil
}
