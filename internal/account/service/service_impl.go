package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/account/domain"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
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
		log:   p.Log.Named("account.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateAccountRequest) (domain.Account, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Account{}, domain.ErrInvalidName
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.Account{}, domain.ErrInvalidEmail
	}

	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return domain.Account{}, err
	}

	existing, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return domain.Account{}, err
	}
	if existing != nil {
		return domain.Account{}, domain.ErrEmailTaken
	}

	timezone := strings.TrimSpace(req.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}

	now := s.clock.Now()
	account := domain.Account{
		ID:        s.genID.Generate(),
		Name:      name,
		Email:     email,
		Currency:  currency,
		Timezone:  timezone,
		Status:    domain.StatusActive,
		TaxExempt: req.TaxExempt,
		TaxID:     normalizePointer(req.TaxID),
		VatID:     normalizePointer(req.VatID),
		Metadata:  datatypes.JSONMap(req.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if account.Metadata == nil {
		account.Metadata = datatypes.JSONMap{}
	}

	if err := s.repo.Insert(ctx, s.db, &account); err != nil {
		return domain.Account{}, err
	}

	s.log.Info("account created",
		zap.String("account_id", account.ID.String()),
		zap.String("currency", account.Currency),
	)
	return account, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateAccountRequest) (domain.Account, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.Account{}, err
	}

	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Account{}, domain.ErrInvalidName
		}
		account.Name = name
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if email == "" || !strings.Contains(email, "@") {
			return domain.Account{}, domain.ErrInvalidEmail
		}
		if email != account.Email {
			existing, err := s.repo.FindByEmail(ctx, s.db, email)
			if err != nil {
				return domain.Account{}, err
			}
			if existing != nil && existing.ID != account.ID {
				return domain.Account{}, domain.ErrEmailTaken
			}
		}
		account.Email = email
	}
	if req.Timezone != nil {
		timezone := strings.TrimSpace(*req.Timezone)
		if timezone == "" {
			timezone = "UTC"
		}
		account.Timezone = timezone
	}
	if req.TaxExempt != nil {
		account.TaxExempt = *req.TaxExempt
	}
	if req.TaxID != nil {
		account.TaxID = normalizePointer(req.TaxID)
	}
	if req.VatID != nil {
		account.VatID = normalizePointer(req.VatID)
	}
	if req.Metadata != nil {
		account.Metadata = datatypes.JSONMap(req.Metadata)
	}
	account.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, s.db, account); err != nil {
		return domain.Account{}, err
	}
	return *account, nil
}

func (s *Service) SetStatus(ctx context.Context, req domain.SetStatusRequest) (domain.Account, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.Account{}, err
	}
	if !req.Status.Valid() {
		return domain.Account{}, domain.ErrInvalidStatus
	}

	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrNotFound
	}

	if account.Status == req.Status {
		return *account, nil
	}
	if !domain.CanTransition(account.Status, req.Status) {
		return domain.Account{}, domain.ErrIllegalTransition
	}

	now := s.clock.Now()
	affected, err := s.repo.UpdateStatus(ctx, s.db, id, account.Status, req.Status, now)
	if err != nil {
		return domain.Account{}, err
	}
	if affected == 0 {
		// lost a race with another status writer; re-read and report
		current, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return domain.Account{}, err
		}
		if current != nil && current.Status == req.Status {
			return *current, nil
		}
		return domain.Account{}, domain.ErrIllegalTransition
	}

	s.log.Info("account status changed",
		zap.String("account_id", account.ID.String()),
		zap.String("from", string(account.Status)),
		zap.String("to", string(req.Status)),
		zap.String("reason", req.Reason),
	)

	account.Status = req.Status
	account.UpdatedAt = now
	return *account, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetAccountRequest) (domain.Account, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.Account{}, err
	}

	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	return *account, nil
}

func (s *Service) List(ctx context.Context, req domain.ListAccountRequest) (domain.ListAccountResponse, error) {
	filter := domain.ListAccountFilter{
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		Status:      strings.TrimSpace(req.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		CreatedFrom: req.CreatedFrom,
		CreatedTo:   req.CreatedTo,
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
		return domain.ListAccountResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(account *domain.Account) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        account.ID.String(),
			CreatedAt: account.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	accounts := make([]domain.Account, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		accounts = append(accounts, *item)
	}

	resp := domain.ListAccountResponse{Accounts: accounts}
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

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
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
