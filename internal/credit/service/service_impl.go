package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/recurhq/recur/internal/account/domain"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/credit/domain"
	invoicedomain "github.com/recurhq/recur/internal/invoice/domain"
	ledgerdomain "github.com/recurhq/recur/internal/ledger/domain"
	obsmetrics "github.com/recurhq/recur/internal/observability/metrics"
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
	Ledger      ledgerdomain.Service
	Outbox      webhookdomain.Emitter
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	accountRepo accountdomain.Repository
	ledger      ledgerdomain.Service
	outbox      webhookdomain.Emitter
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("credit.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
		ledger:      p.Ledger,
		outbox:      p.Outbox,
	}
}

func (s *Service) Grant(ctx context.Context, req domain.GrantCreditRequest) (domain.Credit, error) {
	accountID, err := parseID(req.AccountID, domain.ErrInvalidAccountID)
	if err != nil {
		return domain.Credit{}, err
	}
	if req.Amount <= 0 {
		return domain.Credit{}, domain.ErrInvalidAmount
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Credit{}, domain.ErrInvalidReason
	}

	now := s.clock.Now().UTC()
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		expiry := req.ExpiresAt.UTC()
		if !expiry.After(now) {
			return domain.Credit{}, domain.ErrInvalidExpiry
		}
		expiresAt = &expiry
	}

	account, err := s.accountRepo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return domain.Credit{}, err
	}
	if account == nil {
		return domain.Credit{}, domain.ErrAccountNotFound
	}

	credit := domain.Credit{
		ID:        s.genID.Generate(),
		AccountID: accountID,
		Amount:    req.Amount,
		Currency:  account.Currency,
		Reason:    reason,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &credit); err != nil {
			return err
		}
		if err := s.ledger.CreateEntry(ctx, tx, ledgerdomain.CreateEntryInput{
			SourceType: ledgerdomain.SourceCreditGrant,
			SourceID:   credit.ID,
			Currency:   credit.Currency,
			OccurredAt: now,
			Lines:      ledgerdomain.CreditGrantPosting(credit.Amount),
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, "credit.created", creditPayload(&credit))
	})
	if err != nil {
		return domain.Credit{}, err
	}

	s.log.Info("credit granted",
		zap.String("credit_id", credit.ID.String()),
		zap.String("account_id", accountID.String()),
		zap.Int64("amount", credit.Amount),
		zap.String("reason", reason),
	)
	return credit, nil
}

func (s *Service) ApplyToInvoice(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) (int64, error) {
	if invoice == nil || invoice.AmountDue <= 0 {
		return 0, nil
	}

	now := s.clock.Now().UTC()
	credits, err := s.repo.FindAvailableForUpdate(ctx, tx, invoice.AccountID, invoice.Currency, now)
	if err != nil {
		return 0, err
	}

	var applied int64
	for _, credit := range credits {
		if invoice.AmountDue <= 0 {
			break
		}
		if credit == nil {
			continue
		}

		applicable := credit.Amount
		if applicable > invoice.AmountDue {
			applicable = invoice.AmountDue
		}

		if applicable == credit.Amount {
			rows, err := s.repo.ApplyFull(ctx, tx, credit.ID, invoice.ID, now)
			if err != nil {
				return applied, err
			}
			if rows == 0 {
				continue
			}
		} else {
			rows, err := s.repo.ApplySplit(ctx, tx, credit.ID, applicable, invoice.ID, now)
			if err != nil {
				return applied, err
			}
			if rows == 0 {
				continue
			}
			remainder := domain.Credit{
				ID:             s.genID.Generate(),
				AccountID:      credit.AccountID,
				Amount:         credit.Amount - applicable,
				Currency:       credit.Currency,
				Reason:         domain.ReasonSplitRemainder,
				OriginCreditID: &credit.ID,
				ExpiresAt:      credit.ExpiresAt,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.repo.Insert(ctx, tx, &remainder); err != nil {
				return applied, err
			}
		}

		if err := s.ledger.CreateEntry(ctx, tx, ledgerdomain.CreateEntryInput{
			SourceType: ledgerdomain.SourceCreditUse,
			SourceID:   credit.ID,
			Currency:   invoice.Currency,
			OccurredAt: now,
			Lines:      ledgerdomain.CreditUsePosting(applicable),
		}); err != nil {
			return applied, err
		}
		if err := s.outbox.Emit(ctx, tx, "credit.applied", datatypes.JSONMap{
			"credit_id":      credit.ID.String(),
			"invoice_id":     invoice.ID.String(),
			"account_id":     invoice.AccountID.String(),
			"amount_applied": applicable,
			"currency":       invoice.Currency,
		}); err != nil {
			return applied, err
		}

		invoice.AmountDue -= applicable
		invoice.CreditApplied += applicable
		applied += applicable
		obsmetrics.Engine().RecordCreditApplied(applicable)
	}

	if applied > 0 {
		s.log.Info("credits applied to invoice",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Int64("amount", applied),
			zap.Int64("remaining_due", invoice.AmountDue),
		)
	}
	return applied, nil
}

func (s *Service) GrantForInvoice(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, amount int64, reason string) (domain.Credit, error) {
	if invoice == nil {
		return domain.Credit{}, domain.ErrInvalidAmount
	}
	if amount <= 0 {
		return domain.Credit{}, domain.ErrInvalidAmount
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Credit{}, domain.ErrInvalidReason
	}

	now := s.clock.Now().UTC()
	credit := domain.Credit{
		ID:        s.genID.Generate(),
		AccountID: invoice.AccountID,
		Amount:    amount,
		Currency:  invoice.Currency,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, tx, &credit); err != nil {
		return domain.Credit{}, err
	}
	if err := s.ledger.CreateEntry(ctx, tx, ledgerdomain.CreateEntryInput{
		SourceType: ledgerdomain.SourceRefund,
		SourceID:   invoice.ID,
		Currency:   invoice.Currency,
		OccurredAt: now,
		Lines:      ledgerdomain.CreditGrantPosting(amount),
	}); err != nil {
		return domain.Credit{}, err
	}
	if err := s.outbox.Emit(ctx, tx, "credit.created", creditPayload(&credit)); err != nil {
		return domain.Credit{}, err
	}

	s.log.Info("invoice credit issued",
		zap.String("credit_id", credit.ID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("reason", reason),
		zap.Int64("amount", amount),
	)
	return credit, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetCreditRequest) (domain.Credit, error) {
	id, err := parseID(req.ID, domain.ErrInvalidID)
	if err != nil {
		return domain.Credit{}, err
	}
	credit, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Credit{}, err
	}
	if credit == nil {
		return domain.Credit{}, domain.ErrNotFound
	}
	return *credit, nil
}

func (s *Service) Balance(ctx context.Context, accountID, currency string) (domain.BalanceResponse, error) {
	id, err := parseID(accountID, domain.ErrInvalidAccountID)
	if err != nil {
		return domain.BalanceResponse{}, err
	}
	account, err := s.accountRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.BalanceResponse{}, err
	}
	if account == nil {
		return domain.BalanceResponse{}, domain.ErrAccountNotFound
	}

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = account.Currency
	}

	available, err := s.repo.SumAvailable(ctx, s.db, id, currency, s.clock.Now().UTC())
	if err != nil {
		return domain.BalanceResponse{}, err
	}
	return domain.BalanceResponse{
		AccountID: id.String(),
		Currency:  currency,
		Available: available,
	}, nil
}

func (s *Service) List(ctx context.Context, req domain.ListCreditRequest) (domain.ListCreditResponse, error) {
	filter := domain.ListCreditFilter{Now: s.clock.Now().UTC()}
	if strings.TrimSpace(req.AccountID) != "" {
		accountID, err := parseID(req.AccountID, domain.ErrInvalidAccountID)
		if err != nil {
			return domain.ListCreditResponse{}, err
		}
		filter.AccountID = int64(accountID)
	}
	if state := strings.TrimSpace(req.State); state != "" {
		normalized := strings.ToLower(state)
		switch normalized {
		case domain.StateAvailable, domain.StateApplied, domain.StateExpired:
			filter.State = normalized
		default:
			return domain.ListCreditResponse{}, domain.ErrInvalidState
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
		return domain.ListCreditResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(credit *domain.Credit) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        credit.ID.String(),
			CreatedAt: credit.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	credits := make([]domain.Credit, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		credits = append(credits, *item)
	}

	resp := domain.ListCreditResponse{Credits: credits}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func creditPayload(credit *domain.Credit) datatypes.JSONMap {
	payload := datatypes.JSONMap{
		"id":         credit.ID.String(),
		"account_id": credit.AccountID.String(),
		"amount":     credit.Amount,
		"currency":   credit.Currency,
		"reason":     credit.Reason,
	}
	if credit.ExpiresAt != nil {
		payload["expires_at"] = credit.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return payload
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
