package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/recurhq/recur/internal/audit/domain"
	auditrepository "github.com/recurhq/recur/internal/audit/repository"
	auditservice "github.com/recurhq/recur/internal/audit/service"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fixture struct {
	svc  domain.Service
	db   *gorm.DB
	clk  *clock.FakeClock
	node *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Account{},
		&domain.Entry{},
		&domain.Line{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})

	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		AuditSvc: auditSvc,
	})
	require.NoError(t, svc.EnsureAccounts(context.Background()))

	return &fixture{svc: svc, db: db, clk: clk, node: node}
}

func TestEnsureAccountsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.EnsureAccounts(ctx))
	require.NoError(t, f.svc.EnsureAccounts(ctx))

	var count int64
	require.NoError(t, f.db.Model(&domain.Account{}).Count(&count).Error)
	assert.Equal(t, int64(len(domain.ChartOfAccounts())), count)
}

func TestCreateEntryPostsBalancedLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoiceID := f.node.Generate()

	err := f.svc.CreateEntry(ctx, f.db, domain.CreateEntryInput{
		SourceType: domain.SourceBillingCycle,
		SourceID:   invoiceID,
		Currency:   "USD",
		OccurredAt: f.clk.Now(),
		Lines:      domain.InvoicePosting(2200, 2000, 0, 200),
	})
	require.NoError(t, err)

	var entry domain.Entry
	require.NoError(t, f.db.First(&entry, "source_id = ?", invoiceID).Error)
	assert.Equal(t, domain.SourceBillingCycle, entry.SourceType)
	assert.Equal(t, "usd", entry.Currency)

	var lines []domain.Line
	require.NoError(t, f.db.Where("entry_id = ?", entry.ID).Order("id asc").Find(&lines).Error)
	require.Len(t, lines, 3)

	var debits, credits int64
	for _, line := range lines {
		assert.NotZero(t, line.AccountID)
		if line.Direction == domain.DirectionDebit {
			debits += line.Amount
		} else {
			credits += line.Amount
		}
	}
	assert.Equal(t, int64(2200), debits)
	assert.Equal(t, int64(2200), credits)

	var audits []auditdomain.AuditLog
	require.NoError(t, f.db.Where("action = ?", "ledger.entry_created").Find(&audits).Error)
	require.Len(t, audits, 1)
	require.NotNil(t, audits[0].TargetID)
	assert.Equal(t, entry.ID.String(), *audits[0].TargetID)
}

func TestCreateEntryIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paymentID := f.node.Generate()

	input := domain.CreateEntryInput{
		SourceType: domain.SourcePayment,
		SourceID:   paymentID,
		Currency:   "usd",
		OccurredAt: f.clk.Now(),
		Lines:      domain.PaymentPosting(2200),
	}
	require.NoError(t, f.svc.CreateEntry(ctx, f.db, input))

	// Replaying the same event, even with different legs, changes nothing.
	input.Lines = domain.PaymentPosting(9999)
	require.NoError(t, f.svc.CreateEntry(ctx, f.db, input))

	var entryCount, lineCount int64
	require.NoError(t, f.db.Model(&domain.Entry{}).Count(&entryCount).Error)
	require.NoError(t, f.db.Model(&domain.Line{}).Count(&lineCount).Error)
	assert.Equal(t, int64(1), entryCount)
	assert.Equal(t, int64(2), lineCount)
}

func TestCreateEntryValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sourceID := f.node.Generate()
	now := f.clk.Now()

	valid := func() domain.CreateEntryInput {
		return domain.CreateEntryInput{
			SourceType: domain.SourcePayment,
			SourceID:   sourceID,
			Currency:   "usd",
			OccurredAt: now,
			Lines:      domain.PaymentPosting(100),
		}
	}

	cases := []struct {
		name   string
		mutate func(*domain.CreateEntryInput)
		want   error
	}{
		{"unknown source type", func(in *domain.CreateEntryInput) { in.SourceType = "sale" }, domain.ErrInvalidSourceType},
		{"zero source id", func(in *domain.CreateEntryInput) { in.SourceID = 0 }, domain.ErrInvalidSourceID},
		{"blank currency", func(in *domain.CreateEntryInput) { in.Currency = "  " }, domain.ErrInvalidCurrency},
		{"zero occurred at", func(in *domain.CreateEntryInput) { in.OccurredAt = time.Time{} }, domain.ErrInvalidOccurredAt},
		{"single leg", func(in *domain.CreateEntryInput) { in.Lines = in.Lines[:1] }, domain.ErrInvalidLines},
		{"zero amount leg", func(in *domain.CreateEntryInput) { in.Lines[0].Amount = 0 }, domain.ErrInvalidAmount},
		{"bad direction", func(in *domain.CreateEntryInput) { in.Lines[0].Direction = "sideways" }, domain.ErrInvalidDirection},
		{"unbalanced", func(in *domain.CreateEntryInput) { in.Lines[0].Amount = 150 }, domain.ErrUnbalanced},
		{"unknown account", func(in *domain.CreateEntryInput) { in.Lines[0].Code = "petty_cash" }, domain.ErrUnknownAccount},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := valid()
			tc.mutate(&input)
			err := f.svc.CreateEntry(ctx, f.db, input)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// Nothing may have reached the journal.
	var entryCount int64
	require.NoError(t, f.db.Model(&domain.Entry{}).Count(&entryCount).Error)
	assert.Zero(t, entryCount)
}

func TestBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.CreateEntry(ctx, f.db, domain.CreateEntryInput{
		SourceType: domain.SourceBillingCycle,
		SourceID:   f.node.Generate(),
		Currency:   "usd",
		OccurredAt: f.clk.Now(),
		Lines:      domain.InvoicePosting(2200, 2000, 0, 200),
	}))
	require.NoError(t, f.svc.CreateEntry(ctx, f.db, domain.CreateEntryInput{
		SourceType: domain.SourcePayment,
		SourceID:   f.node.Generate(),
		Currency:   "usd",
		OccurredAt: f.clk.Now(),
		Lines:      domain.PaymentPosting(2200),
	}))
	require.NoError(t, f.svc.CreateEntry(ctx, f.db, domain.CreateEntryInput{
		SourceType: domain.SourceCreditGrant,
		SourceID:   f.node.Generate(),
		Currency:   "eur",
		OccurredAt: f.clk.Now(),
		Lines:      domain.CreditGrantPosting(500),
	}))

	balances, err := f.svc.Balances(ctx, "usd")
	require.NoError(t, err)

	byCode := make(map[domain.AccountCode]int64, len(balances))
	for _, balance := range balances {
		byCode[balance.Code] = balance.Net
	}
	assert.Equal(t, int64(0), byCode[domain.AccountAccountsReceivable])
	assert.Equal(t, int64(2200), byCode[domain.AccountCash])
	assert.Equal(t, int64(-2000), byCode[domain.AccountRevenueFlat])
	assert.Equal(t, int64(-200), byCode[domain.AccountTaxPayable])
	assert.Equal(t, int64(0), byCode[domain.AccountCreditBalance])

	all, err := f.svc.Balances(ctx, "")
	require.NoError(t, err)
	byCode = make(map[domain.AccountCode]int64, len(all))
	for _, balance := range all {
		byCode[balance.Code] = balance.Net
	}
	assert.Equal(t, int64(-500), byCode[domain.AccountCreditBalance])
	assert.Equal(t, int64(500), byCode[domain.AccountAdjustment])
}

func TestListEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoiceID := f.node.Generate()

	require.NoError(t, f.svc.CreateEntry(ctx, f.db, domain.CreateEntryInput{
		SourceType: domain.SourceBillingCycle,
		SourceID:   invoiceID,
		Currency:   "usd",
		OccurredAt: f.clk.Now(),
		Lines:      domain.InvoicePosting(2200, 2000, 0, 200),
	}))
	require.NoError(t, f.svc.CreateEntry(ctx, f.db, domain.CreateEntryInput{
		SourceType: domain.SourcePayment,
		SourceID:   f.node.Generate(),
		Currency:   "usd",
		OccurredAt: f.clk.Now(),
		Lines:      domain.PaymentPosting(2200),
	}))

	resp, err := f.svc.List(ctx, domain.ListEntryRequest{SourceType: string(domain.SourceBillingCycle)})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, invoiceID, resp.Entries[0].SourceID)
	assert.Len(t, resp.Entries[0].Lines, 3)

	bySource, err := f.svc.List(ctx, domain.ListEntryRequest{SourceID: invoiceID.String()})
	require.NoError(t, err)
	require.Len(t, bySource.Entries, 1)

	_, err = f.svc.List(ctx, domain.ListEntryRequest{SourceID: "bogus"})
	assert.ErrorIs(t, err, domain.ErrInvalidSourceID)
}

func TestPostingBuilders(t *testing.T) {
	// A proration-heavy invoice can carry a negative flat component; the
	// builder flips it to the debit side and the legs still balance.
	lines := domain.InvoicePosting(550, 500, 0, 50)
	require.NoError(t, domain.ValidateBalanced(lines))

	flipped := domain.InvoicePosting(-450, -500, 0, 50)
	require.NoError(t, domain.ValidateBalanced(flipped))
	var sawDebitRevenue bool
	for _, line := range flipped {
		if line.Code == domain.AccountRevenueFlat {
			assert.Equal(t, domain.DirectionDebit, line.Direction)
			assert.Equal(t, int64(500), line.Amount)
			sawDebitRevenue = true
		}
	}
	assert.True(t, sawDebitRevenue)

	require.NoError(t, domain.ValidateBalanced(domain.PaymentPosting(100)))
	require.NoError(t, domain.ValidateBalanced(domain.CreditGrantPosting(100)))
	require.NoError(t, domain.ValidateBalanced(domain.CreditUsePosting(100)))
	require.NoError(t, domain.ValidateBalanced(domain.WriteOffPosting(100)))

	assert.ErrorIs(t, domain.ValidateBalanced([]domain.LineInput{
		{Code: domain.AccountCash, Direction: domain.DirectionDebit, Amount: 100},
		{Code: domain.AccountRevenueFlat, Direction: domain.DirectionCredit, Amount: 90},
	}), domain.ErrUnbalanced)
}
