package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/recurhq/recur/internal/account/domain"
	"github.com/recurhq/recur/internal/config"
	"github.com/recurhq/recur/internal/dunning/domain"
	invoicedomain "github.com/recurhq/recur/internal/invoice/domain"
	"github.com/recurhq/recur/internal/notification"
	obsmetrics "github.com/recurhq/recur/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Billing     *config.BillingConfigHolder
	InvoiceRepo invoicedomain.Repository
	AccountRepo accountdomain.Repository
	Sink        notification.Sink
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	billing     *config.BillingConfigHolder
	invoiceRepo invoicedomain.Repository
	accountRepo accountdomain.Repository
	sink        notification.Sink
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("dunning.service"),
		billing:     p.Billing,
		invoiceRepo: p.InvoiceRepo,
		accountRepo: p.AccountRepo,
		sink:        p.Sink,
	}
}

// Sweep flags and escalates inside one transaction, then delivers notices
// after commit so the sink never runs under row locks. A notice lost to a
// crash between the two is caught by the next day's level, not re-sent.
func (s *Service) Sweep(ctx context.Context, now time.Time, limit int) (int, error) {
	cfg := s.billing.Get()

	var notices []notification.Notice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoices, err := s.invoiceRepo.ClaimDunnable(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		for _, invoice := range invoices {
			if invoice == nil {
				continue
			}
			days := daysOverdue(now, invoice.DueDate)
			level, flag := levelFor(days, cfg)
			if level == "" {
				continue
			}

			if err := s.escalate(ctx, tx, invoice.AccountID, level, now); err != nil {
				return err
			}
			if flagSet(invoice.Metadata, flag) {
				continue
			}

			account, err := s.accountRepo.FindByID(ctx, tx, invoice.AccountID)
			if err != nil {
				return err
			}
			if account == nil {
				s.log.Error("overdue invoice references missing account",
					zap.String("invoice_id", invoice.ID.String()),
					zap.String("account_id", invoice.AccountID.String()),
				)
				continue
			}

			if invoice.Metadata == nil {
				invoice.Metadata = datatypes.JSONMap{}
			}
			invoice.Metadata[flag] = true
			invoice.UpdatedAt = now
			if err := s.invoiceRepo.UpdateAmounts(ctx, tx, invoice); err != nil {
				return err
			}

			notices = append(notices, notification.Notice{
				Level:         level,
				AccountID:     account.ID,
				AccountEmail:  account.Email,
				InvoiceID:     invoice.ID,
				InvoiceNumber: invoice.Number,
				AmountDue:     invoice.AmountDue,
				Currency:      invoice.Currency,
				DueDate:       invoice.DueDate,
				DaysOverdue:   days,
			})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, notice := range notices {
		if err := s.sink.Send(ctx, notice); err != nil {
			s.log.Error("dunning notice delivery failed",
				zap.String("invoice_id", notice.InvoiceID.String()),
				zap.String("level", string(notice.Level)),
				zap.Error(err),
			)
			continue
		}
		obsmetrics.Engine().RecordDunningNotification(string(notice.Level))
		sent++
	}
	if sent > 0 {
		s.log.Info("dunning sweep complete", zap.Int("notices", sent))
	}
	return sent, nil
}

// escalate moves the account down the ladder; the CAS repo update makes
// repeat sweeps and already-escalated accounts no-ops.
func (s *Service) escalate(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, level notification.Level, at time.Time) error {
	switch level {
	case notification.LevelWarning:
		affected, err := s.accountRepo.UpdateStatus(ctx, tx, accountID, accountdomain.StatusActive, accountdomain.StatusWarning, at)
		if err != nil {
			return err
		}
		if affected > 0 {
			s.log.Info("account moved to warning", zap.String("account_id", accountID.String()))
		}
		return nil
	case notification.LevelBlocked:
		affected, err := s.accountRepo.UpdateStatus(ctx, tx, accountID, accountdomain.StatusActive, accountdomain.StatusBlocked, at)
		if err != nil {
			return err
		}
		if affected == 0 {
			affected, err = s.accountRepo.UpdateStatus(ctx, tx, accountID, accountdomain.StatusWarning, accountdomain.StatusBlocked, at)
			if err != nil {
				return err
			}
		}
		if affected > 0 {
			s.log.Warn("account blocked for non-payment", zap.String("account_id", accountID.String()))
		}
		return nil
	default:
		return nil
	}
}

func daysOverdue(now, due time.Time) int {
	return int(now.Sub(due).Hours() / 24)
}

// levelFor picks the single highest level the invoice's age has reached;
// lower levels are never back-filled.
func levelFor(days int, cfg config.BillingConfig) (notification.Level, string) {
	switch {
	case days >= cfg.DunningBlockedDays:
		return notification.LevelBlocked, invoicedomain.MetaDunningBlocked
	case days >= cfg.DunningWarningDays:
		return notification.LevelWarning, invoicedomain.MetaDunningWarning
	case days >= cfg.DunningReminderDays:
		return notification.LevelReminder, invoicedomain.MetaDunningReminder
	default:
		return "", ""
	}
}

func flagSet(meta datatypes.JSONMap, key string) bool {
	if meta == nil {
		return false
	}
	value, ok := meta[key]
	if !ok {
		return false
	}
	flag, ok := value.(bool)
	return ok && flag
}
