package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/recurhq/recur/internal/account/domain"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/paymentmethod/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
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
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	accountRepo accountdomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("paymentmethod.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
	}
}

func (s *Service) Add(ctx context.Context, req domain.AddPaymentMethodRequest) (domain.PaymentMethod, error) {
	accountID, err := parseID(req.AccountID)
	if err != nil {
		return domain.PaymentMethod{}, domain.ErrInvalidAccount
	}

	token := strings.TrimSpace(req.GatewayToken)
	if token == "" {
		return domain.PaymentMethod{}, domain.ErrInvalidToken
	}
	if req.ExpMonth < 1 || req.ExpMonth > 12 || req.ExpYear < 2000 {
		return domain.PaymentMethod{}, domain.ErrInvalidExpiry
	}

	account, err := s.accountRepo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	if account == nil {
		return domain.PaymentMethod{}, domain.ErrInvalidAccount
	}

	existing, err := s.repo.FindByToken(ctx, s.db, token)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	if existing != nil {
		return domain.PaymentMethod{}, domain.ErrTokenTaken
	}

	now := s.clock.Now()
	method := domain.PaymentMethod{
		ID:           s.genID.Generate(),
		AccountID:    accountID,
		GatewayToken: token,
		Brand:        strings.ToLower(strings.TrimSpace(req.Brand)),
		Last4:        strings.TrimSpace(req.Last4),
		ExpMonth:     req.ExpMonth,
		ExpYear:      req.ExpYear,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := s.repo.CountByAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		// the first stored method becomes the default automatically
		method.IsDefault = req.MakeDefault || count == 0
		if method.IsDefault {
			if err := s.repo.ClearDefault(ctx, tx, accountID); err != nil {
				return err
			}
		}
		return s.repo.Insert(ctx, tx, &method)
	})
	if err != nil {
		return domain.PaymentMethod{}, err
	}

	s.log.Info("payment method added",
		zap.String("account_id", accountID.String()),
		zap.String("brand", method.Brand),
		zap.Bool("default", method.IsDefault),
	)
	return method, nil
}

func (s *Service) SetDefault(ctx context.Context, req domain.SetDefaultRequest) (domain.PaymentMethod, error) {
	accountID, err := parseID(req.AccountID)
	if err != nil {
		return domain.PaymentMethod{}, domain.ErrInvalidAccount
	}
	id, err := parseID(req.ID)
	if err != nil {
		return domain.PaymentMethod{}, domain.ErrInvalidID
	}

	method, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	if method == nil || method.AccountID != accountID {
		return domain.PaymentMethod{}, domain.ErrNotFound
	}
	if method.IsDefault {
		return *method, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.ClearDefault(ctx, tx, accountID); err != nil {
			return err
		}
		affected, err := s.repo.SetDefault(ctx, tx, id)
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return domain.PaymentMethod{}, err
	}

	method.IsDefault = true
	return *method, nil
}

func (s *Service) Remove(ctx context.Context, req domain.RemoveRequest) error {
	accountID, err := parseID(req.AccountID)
	if err != nil {
		return domain.ErrInvalidAccount
	}
	id, err := parseID(req.ID)
	if err != nil {
		return domain.ErrInvalidID
	}

	method, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if method == nil || method.AccountID != accountID {
		return domain.ErrNotFound
	}

	if err := s.repo.Delete(ctx, s.db, id); err != nil {
		return err
	}
	if method.IsDefault {
		s.log.Info("default payment method removed; account has no default",
			zap.String("account_id", accountID.String()),
		)
	}
	return nil
}

func (s *Service) ListByAccount(ctx context.Context, accountID string) ([]domain.PaymentMethod, error) {
	id, err := parseID(accountID)
	if err != nil {
		return nil, domain.ErrInvalidAccount
	}

	items, err := s.repo.ListByAccount(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	methods := make([]domain.PaymentMethod, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		methods = append(methods, *item)
	}
	return methods, nil
}

func (s *Service) DefaultForAccount(ctx context.Context, accountID snowflake.ID) (*domain.PaymentMethod, error) {
	return s.repo.FindDefault(ctx, s.db, accountID)
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
