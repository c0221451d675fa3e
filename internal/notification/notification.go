// Package notification carries dunning notices to whatever channel is wired
// in. Delivery itself is out of scope for the engine; the in-repo sink writes
// structured log lines that an external mailer can tail.
package notification

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Level string

const (
	LevelReminder Level = "reminder"
	LevelWarning  Level = "warning"
	LevelBlocked  Level = "service_blocked"
)

// Notice is one dunning message about one overdue invoice.
type Notice struct {
	Level         Level
	AccountID     snowflake.ID
	AccountEmail  string
	InvoiceID     snowflake.ID
	InvoiceNumber string
	AmountDue     int64
	Currency      string
	DueDate       time.Time
	DaysOverdue   int
}

type Sink interface {
	Send(ctx context.Context, notice Notice) error
}

type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) Sink {
	return &LogSink{log: log.Named("notification.sink")}
}

func (s *LogSink) Send(ctx context.Context, notice Notice) error {
	fields := []zap.Field{
		zap.String("level", string(notice.Level)),
		zap.String("account_id", notice.AccountID.String()),
		zap.String("account_email", notice.AccountEmail),
		zap.String("invoice_id", notice.InvoiceID.String()),
		zap.String("invoice_number", notice.InvoiceNumber),
		zap.Int64("amount_due", notice.AmountDue),
		zap.String("currency", notice.Currency),
		zap.Time("due_date", notice.DueDate),
		zap.Int("days_overdue", notice.DaysOverdue),
	}
	if notice.Level == LevelReminder {
		s.log.Info("dunning notice", fields...)
	} else {
		s.log.Warn("dunning notice", fields...)
	}
	return nil
}

var Module = fx.Module("notification",
	fx.Provide(NewLogSink),
)
