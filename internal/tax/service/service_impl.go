package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/tax/domain"
	pkgdb "github.com/recurhq/recur/pkg/db"
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
		log:   p.Log.Named("tax.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) CreateRate(ctx context.Context, req domain.CreateRateRequest) (domain.TaxRate, error) {
	now := s.clock.Now()
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	rate := domain.TaxRate{
		ID:        s.genID.Generate(),
		Location:  strings.TrimSpace(req.Location),
		Name:      strings.TrimSpace(req.Name),
		Rate:      req.Rate,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := rate.Validate(); err != nil {
		return domain.TaxRate{}, err
	}

	if err := s.repo.Insert(ctx, s.db, &rate); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return domain.TaxRate{}, domain.ErrDuplicateRate
		}
		return domain.TaxRate{}, err
	}

	s.log.Info("tax rate created",
		zap.String("location", rate.Location),
		zap.Float64("rate", rate.Rate),
	)
	return rate, nil
}

func (s *Service) UpdateRate(ctx context.Context, req domain.UpdateRateRequest) (domain.TaxRate, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.TaxRate{}, err
	}

	rate, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.TaxRate{}, err
	}
	if rate == nil {
		return domain.TaxRate{}, domain.ErrNotFound
	}

	if req.Name != nil {
		rate.Name = strings.TrimSpace(*req.Name)
	}
	if req.Rate != nil {
		rate.Rate = *req.Rate
	}
	if req.Active != nil {
		rate.Active = *req.Active
	}
	if err := rate.Validate(); err != nil {
		return domain.TaxRate{}, err
	}

	rate.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, rate); err != nil {
		return domain.TaxRate{}, err
	}
	return *rate, nil
}

func (s *Service) DisableRate(ctx context.Context, id string) (domain.TaxRate, error) {
	parsed, err := parseID(id)
	if err != nil {
		return domain.TaxRate{}, err
	}

	rate, err := s.repo.FindByID(ctx, s.db, parsed)
	if err != nil {
		return domain.TaxRate{}, err
	}
	if rate == nil {
		return domain.TaxRate{}, domain.ErrNotFound
	}

	rate.Active = false
	rate.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, rate); err != nil {
		return domain.TaxRate{}, err
	}

	s.log.Info("tax rate disabled", zap.String("location", rate.Location))
	return *rate, nil
}

func (s *Service) ListRates(ctx context.Context, req domain.ListRateRequest) ([]domain.TaxRate, error) {
	filter := domain.ListRateRequest{
		Location: strings.TrimSpace(req.Location),
		Active:   req.Active,
		SortBy:   strings.TrimSpace(req.SortBy),
		OrderBy:  strings.TrimSpace(req.OrderBy),
	}
	return s.repo.List(ctx, s.db, filter)
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
