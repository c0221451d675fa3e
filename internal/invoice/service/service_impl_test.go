package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/recurhq/recur/internal/account/domain"
	accountrepository "github.com/recurhq/recur/internal/account/repository"
	auditdomain "github.com/recurhq/recur/internal/audit/domain"
	auditrepository "github.com/recurhq/recur/internal/audit/repository"
	auditservice "github.com/recurhq/recur/internal/audit/service"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/config"
	creditdomain "github.com/recurhq/recur/internal/credit/domain"
	creditrepository "github.com/recurhq/recur/internal/credit/repository"
	creditservice "github.com/recurhq/recur/internal/credit/service"
	"github.com/recurhq/recur/internal/invoice/domain"
	"github.com/recurhq/recur/internal/invoice/repository"
	ledgerdomain "github.com/recurhq/recur/internal/ledger/domain"
	ledgerservice "github.com/recurhq/recur/internal/ledger/service"
	paymentdomain "github.com/recurhq/recur/internal/payment/domain"
	paymentrepository "github.com/recurhq/recur/internal/payment/repository"
	paymentmethoddomain "github.com/recurhq/recur/internal/paymentmethod/domain"
	paymentmethodrepository "github.com/recurhq/recur/internal/paymentmethod/repository"
	plandomain "github.com/recurhq/recur/internal/plan/domain"
	planrepository "github.com/recurhq/recur/internal/plan/repository"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	subscriptionrepository "github.com/recurhq/recur/internal/subscription/repository"
	taxdomain "github.com/recurhq/recur/internal/tax/domain"
	taxrepository "github.com/recurhq/recur/internal/tax/repository"
	taxservice "github.com/recurhq/recur/internal/tax/service"
	usagedomain "github.com/recurhq/recur/internal/usage/domain"
	usagerepository "github.com/recurhq/recur/internal/usage/repository"
	webhookdomain "github.com/recurhq/recur/internal/webhook/domain"
	webhookrepository "github.com/recurhq/recur/internal/webhook/repository"
	webhookservice "github.com/recurhq/recur/internal/webhook/service"
	"github.com/recurhq/recur/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fixture struct {
	svc       domain.Service
	creditSvc creditdomain.Service
	db        *gorm.DB
	clk       *clock.FakeClock
	node      *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	stripLockingClauses(db)
	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&plandomain.Plan{},
		&plandomain.PlanTier{},
		&subscriptiondomain.Subscription{},
		&usagedomain.UsageRecord{},
		&paymentmethoddomain.PaymentMethod{},
		&paymentdomain.Payment{},
		&domain.Invoice{},
		&domain.LineItem{},
		&domain.Counter{},
		&creditdomain.Credit{},
		&taxdomain.TaxRate{},
		&webhookdomain.Endpoint{},
		&webhookdomain.Event{},
		&ledgerdomain.Account{},
		&ledgerdomain.Entry{},
		&ledgerdomain.Line{},
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
	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		AuditSvc: auditSvc,
	})
	require.NoError(t, ledgerSvc.EnsureAccounts(context.Background()))

	outbox := webhookservice.NewOutbox(webhookservice.OutboxParams{
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  webhookrepository.Provide(),
	})
	creditSvc := creditservice.New(creditservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Repo:        creditrepository.Provide(),
		AccountRepo: accountrepository.Provide(),
		Ledger:      ledgerSvc,
		Outbox:      outbox,
	})

	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	oracle := taxservice.NewOracle(taxservice.OracleParams{
		Config: config.Config{},
		DB:     db,
		Log:    zap.NewNop(),
		Repo:   taxrepository.Provide(),
	})
	resolver := taxservice.NewResolver(taxservice.ResolverParams{
		Log:     zap.NewNop(),
		Oracle:  oracle,
		Billing: billing,
	})

	svc := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Billing:     billing,
		Repo:        repository.Provide(),
		SubRepo:     subscriptionrepository.Provide(),
		AccountRepo: accountrepository.Provide(),
		PlanRepo:    planrepository.Provide(),
		UsageRepo:   usagerepository.Provide(),
		MethodRepo:  paymentmethodrepository.Provide(),
		PaymentRepo: paymentrepository.Provide(),
		Tax:         resolver,
		CreditSvc:   creditSvc,
		LedgerSvc:   ledgerSvc,
		Outbox:      outbox,
	})

	return &fixture{svc: svc, creditSvc: creditSvc, db: db, clk: clk, node: node}
}

func stripLockingClauses(db *gorm.DB) {
	strip := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(sql)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_strip_locking", strip)
	db.Callback().Row().Before("gorm:row").Register("sqlite_strip_locking_row", strip)
}

func upTo(v int64) *int64 { return &v }

func (f *fixture) seedAccount(t *testing.T) *accountdomain.Account {
	return f.createAccount(t, false)
}

func (f *fixture) seedExemptAccount(t *testing.T) *accountdomain.Account {
	return f.createAccount(t, true)
}

func (f *fixture) createAccount(t *testing.T, exempt bool) *accountdomain.Account {
	t.Helper()
	id := f.node.Generate()
	account := &accountdomain.Account{
		ID:        id,
		Name:      "Acme",
		Email:     fmt.Sprintf("billing+%s@acme.test", id),
		Currency:  "USD",
		Timezone:  "UTC",
		Status:    accountdomain.StatusActive,
		TaxExempt: exempt,
		CreatedAt: f.clk.Now(),
		UpdatedAt: f.clk.Now(),
	}
	require.NoError(t, f.db.Create(account).Error)
	return account
}

func (f *fixture) seedTaxRate(t *testing.T, rate float64) {
	t.Helper()
	require.NoError(t, f.db.Create(&taxdomain.TaxRate{
		ID:        f.node.Generate(),
		Location:  "UTC",
		Name:      "US Sales Tax",
		Rate:      rate,
		Active:    true,
		CreatedAt: f.clk.Now(),
		UpdatedAt: f.clk.Now(),
	}).Error)
}

func (f *fixture) seedEndpoint(t *testing.T, patterns ...string) *webhookdomain.Endpoint {
	t.Helper()
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	endpoint := &webhookdomain.Endpoint{
		ID:        f.node.Generate(),
		URL:       "https://hooks.acme.test/billing",
		Events:    patterns,
		Active:    true,
		CreatedAt: f.clk.Now(),
		UpdatedAt: f.clk.Now(),
	}
	require.NoError(t, f.db.Create(endpoint).Error)
	return endpoint
}

func (f *fixture) seedPlan(t *testing.T, name string, amount int64) *plandomain.Plan {
	t.Helper()
	plan := &plandomain.Plan{
		ID:        f.node.Generate(),
		Code:      strings.ToLower(name),
		Name:      name,
		Interval:  plandomain.IntervalMonth,
		Amount:    amount,
		Currency:  "USD",
		Active:    true,
		Version:   1,
		CreatedAt: f.clk.Now(),
		UpdatedAt: f.clk.Now(),
	}
	require.NoError(t, f.db.Create(plan).Error)
	return plan
}

func (f *fixture) seedMeteredPlan(t *testing.T, name string, base int64, tiers []plandomain.PlanTier) *plandomain.Plan {
	t.Helper()
	usageType := plandomain.UsageTypeGraduated
	plan := &plandomain.Plan{
		ID:        f.node.Generate(),
		Code:      strings.ToLower(name),
		Name:      name,
		Interval:  plandomain.IntervalMonth,
		Amount:    base,
		Currency:  "USD",
		UsageType: &usageType,
		Active:    true,
		Version:   1,
		CreatedAt: f.clk.Now(),
		UpdatedAt: f.clk.Now(),
	}
	require.NoError(t, f.db.Create(plan).Error)
	for i := range tiers {
		tiers[i].ID = f.node.Generate()
		tiers[i].PlanID = plan.ID
		tiers[i].Position = i
		tiers[i].CreatedAt = f.clk.Now()
		require.NoError(t, f.db.Create(&tiers[i]).Error)
	}
	plan.Tiers = tiers
	return plan
}

// seedSubscription creates an active subscription whose period just closed,
// which is the state the billing cycle hands to the invoice engine.
func (f *fixture) seedSubscription(t *testing.T, account *accountdomain.Account, plan *plandomain.Plan) *subscriptiondomain.Subscription {
	now := f.clk.Now()
	return f.seedSubscriptionPeriod(t, account, plan, now.Add(-30*24*time.Hour), now)
}

func (f *fixture) seedSubscriptionPeriod(t *testing.T, account *accountdomain.Account, plan *plandomain.Plan, start, end time.Time) *subscriptiondomain.Subscription {
	t.Helper()
	sub := &subscriptiondomain.Subscription{
		ID:                 f.node.Generate(),
		AccountID:          account.ID,
		PlanID:             plan.ID,
		Status:             subscriptiondomain.StatusActive,
		Quantity:           1,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		CreatedAt:          start,
		UpdatedAt:          start,
	}
	require.NoError(t, f.db.Create(sub).Error)
	return sub
}

func (f *fixture) seedDefaultMethod(t *testing.T, account *accountdomain.Account) *paymentmethoddomain.PaymentMethod {
	t.Helper()
	method := &paymentmethoddomain.PaymentMethod{
		ID:           f.node.Generate(),
		AccountID:    account.ID,
		GatewayToken: fmt.Sprintf("tok_%s", f.node.Generate()),
		Brand:        "visa",
		Last4:        "4242",
		ExpMonth:     12,
		ExpYear:      2030,
		IsDefault:    true,
		CreatedAt:    f.clk.Now(),
		UpdatedAt:    f.clk.Now(),
	}
	require.NoError(t, f.db.Create(method).Error)
	return method
}

func (f *fixture) seedUsage(t *testing.T, sub *subscriptiondomain.Subscription, metric string, quantity int64, recordedAt, receivedAt time.Time) *usagedomain.UsageRecord {
	t.Helper()
	record := &usagedomain.UsageRecord{
		ID:             f.node.Generate(),
		SubscriptionID: sub.ID,
		Metric:         metric,
		Quantity:       quantity,
		RecordedAt:     recordedAt,
		IdempotencyKey: fmt.Sprintf("usage_%s", f.node.Generate()),
		ReceivedAt:     receivedAt,
		Status:         usagedomain.RecordStatusPending,
		CreatedAt:      receivedAt,
		UpdatedAt:      receivedAt,
	}
	require.NoError(t, f.db.Create(record).Error)
	return record
}

func (f *fixture) seedOpenInvoice(t *testing.T, account *accountdomain.Account, amountDue int64, dueDate time.Time) *domain.Invoice {
	t.Helper()
	now := f.clk.Now()
	inv := &domain.Invoice{
		ID:             f.node.Generate(),
		Number:         domain.FormatNumber(int64(f.node.Generate()) % 1000000),
		AccountID:      account.ID,
		SubscriptionID: f.node.Generate(),
		Status:         domain.StatusOpen,
		Origin:         domain.OriginCycle,
		Currency:       account.Currency,
		Subtotal:       amountDue,
		AmountDue:      amountDue,
		PeriodStart:    now.Add(-30 * 24 * time.Hour),
		PeriodEnd:      now,
		DueDate:        dueDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, f.db.Create(inv).Error)
	return inv
}

func (f *fixture) grantCredit(t *testing.T, account *accountdomain.Account, amount int64) creditdomain.Credit {
	t.Helper()
	credit, err := f.creditSvc.Grant(context.Background(), creditdomain.GrantCreditRequest{
		AccountID: account.ID.String(),
		Amount:    amount,
		Reason:    creditdomain.ReasonPromotional,
	})
	require.NoError(t, err)
	return credit
}

func (f *fixture) reloadInvoice(t *testing.T, id snowflake.ID) *domain.Invoice {
	t.Helper()
	var inv domain.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", id).Error)
	return &inv
}

func (f *fixture) lineItems(t *testing.T, invoiceID snowflake.ID) []domain.LineItem {
	t.Helper()
	var items []domain.LineItem
	require.NoError(t, f.db.Where("invoice_id = ?", invoiceID).Order("position asc").Find(&items).Error)
	return items
}

func (f *fixture) events(t *testing.T, eventType string) []webhookdomain.Event {
	t.Helper()
	var events []webhookdomain.Event
	require.NoError(t, f.db.Where("event_type = ?", eventType).Find(&events).Error)
	return events
}

func TestGenerateFlatCycleInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedAccount(t)
	f.seedTaxRate(t, 0.10)
	f.seedEndpoint(t)
	plan := f.seedPlan(t, "Pro", 2000)
	sub := f.seedSubscription(t, account, plan)
	method := f.seedDefaultMethod(t, account)

	invoice, err := f.svc.GenerateForSubscription(ctx, sub.ID)
	require.NoError(t, err)

	assert.Equal(t, "INV-000001", invoice.Number)
	assert.Equal(t, domain.StatusOpen, invoice.Status)
	assert.Equal(t, domain.OriginCycle, invoice.Origin)
	assert.Equal(t, "USD", invoice.Currency)
	assert.Equal(t, int64(2000), invoice.Subtotal)
	assert.Equal(t, int64(200), invoice.Tax)
	assert.Equal(t, int64(2200), invoice.AmountDue)
	assert.Zero(t, invoice.AmountPaid)
	assert.Zero(t, invoice.CreditApplied)
	assert.WithinDuration(t, f.clk.Now().Add(7*24*time.Hour), invoice.DueDate, time.Second)
	assert.WithinDuration(t, sub.CurrentPeriodStart, invoice.PeriodStart, time.Second)
	assert.WithinDuration(t, sub.CurrentPeriodEnd, invoice.PeriodEnd, time.Second)

	require.Len(t, invoice.LineItems, 1)
	line := invoice.LineItems[0]
	assert.Equal(t, "subscription", line.Type)
	assert.Equal(t, int64(1), line.Quantity)
	assert.Equal(t, int64(2000), line.Amount)
	assert.Contains(t, line.Description, "Pro")

	// The initial payment attempt is enqueued for the retry worker, due
	// immediately against the default method.
	var payments []paymentdomain.Payment
	require.NoError(t, f.db.Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, invoice.ID, payments[0].InvoiceID)
	assert.Equal(t, paymentdomain.StatusPending, payments[0].Status)
	assert.Equal(t, int64(2200), payments[0].Amount)
	assert.True(t, strings.HasPrefix(payments[0].IdempotencyKey, "payment_"))
	require.NotNil(t, payments[0].PaymentMethodID)
	assert.Equal(t, method.ID, *payments[0].PaymentMethodID)
	require.NotNil(t, payments[0].NextRetryAt)

	created := f.events(t, "invoice.created")
	require.Len(t, created, 1)
	assert.Equal(t, invoice.Number, created[0].Payload["number"])
	assert.Empty(t, f.events(t, "invoice.paid"))

	var entry ledgerdomain.Entry
	require.NoError(t, f.db.First(&entry, "source_type = ? AND source_id = ?", ledgerdomain.SourceBillingCycle, invoice.ID).Error)

	// Replaying the close is refused; the period only moves once the
	// billing cycle rolls it forward.
	_, err = f.svc.GenerateForSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrDuplicatePeriod)

	var after subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&after, "id = ?", sub.ID).Error)
	assert.WithinDuration(t, sub.CurrentPeriodEnd, after.CurrentPeriodEnd, time.Second)
}

func TestGenerateGraduatedUsageInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedAccount(t)
	f.seedTaxRate(t, 0.10)
	plan := f.seedMeteredPlan(t, "API", 0, []plandomain.PlanTier{
		{UpTo: upTo(1000), UnitAmount: 10},
		{UpTo: upTo(10000), UnitAmount: 5},
		{UnitAmount: 2},
	})
	sub := f.seedSubscription(t, account, plan)
	f.seedUsage(t, sub, "api_calls", 5000, sub.CurrentPeriodStart.Add(5*24*time.Hour), sub.CurrentPeriodStart.Add(5*24*time.Hour))
	f.seedUsage(t, sub, "api_calls", 2500, sub.CurrentPeriodStart.Add(20*24*time.Hour), sub.CurrentPeriodStart.Add(20*24*time.Hour))

	invoice, err := f.svc.GenerateForSubscription(ctx, sub.ID)
	require.NoError(t, err)

	// 1000 at 10, the remaining 6500 at 5; the unbounded band is unreached.
	assert.Equal(t, int64(42500), invoice.Subtotal)
	assert.Equal(t, int64(4250), invoice.Tax)
	assert.Equal(t, int64(46750), invoice.AmountDue)

	require.Len(t, invoice.LineItems, 2)
	assert.Equal(t, "subscription", invoice.LineItems[0].Type)
	assert.Zero(t, invoice.LineItems[0].Amount)
	usageLine := invoice.LineItems[1]
	assert.Equal(t, "usage", usageLine.Type)
	assert.Equal(t, int64(7500), usageLine.Quantity)
	assert.Equal(t, int64(42500), usageLine.Amount)
	require.NotNil(t, usageLine.Metric)
	assert.Equal(t, "api_calls", *usageLine.Metric)

	var billed int64
	require.NoError(t, f.db.Model(&usagedomain.UsageRecord{}).
		Where("status = ? AND invoice_id = ?", usagedomain.RecordStatusBilled, invoice.ID).
		Count(&billed).Error)
	assert.Equal(t, int64(2), billed)
}

func TestGenerateAppliesCreditsUntilZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedExemptAccount(t)
	f.seedEndpoint(t)
	plan := f.seedPlan(t, "Pro", 2000)

	older := f.grantCredit(t, account, 1500)
	f.clk.Advance(time.Hour)
	newer := f.grantCredit(t, account, 1000)
	f.clk.Advance(time.Hour)

	sub := f.seedSubscription(t, account, plan)
	f.seedDefaultMethod(t, account)

	invoice, err := f.svc.GenerateForSubscription(ctx, sub.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(2000), invoice.Subtotal)
	assert.Zero(t, invoice.Tax)
	assert.Equal(t, int64(2000), invoice.CreditApplied)
	assert.Zero(t, invoice.AmountDue)
	assert.Equal(t, domain.StatusPaid, invoice.Status)
	require.NotNil(t, invoice.PaidAt)

	// Settled by credits alone: nothing reaches the gateway.
	var count int64
	require.NoError(t, f.db.Model(&paymentdomain.Payment{}).Count(&count).Error)
	assert.Zero(t, count)

	var first creditdomain.Credit
	require.NoError(t, f.db.First(&first, "id = ?", older.ID).Error)
	assert.Equal(t, int64(1500), first.Amount)
	require.NotNil(t, first.AppliedToInvoiceID)
	assert.Equal(t, invoice.ID, *first.AppliedToInvoiceID)

	var second creditdomain.Credit
	require.NoError(t, f.db.First(&second, "id = ?", newer.ID).Error)
	assert.Equal(t, int64(500), second.Amount)
	require.NotNil(t, second.AppliedToInvoiceID)

	var remainder creditdomain.Credit
	require.NoError(t, f.db.First(&remainder, "origin_credit_id = ?", newer.ID).Error)
	assert.Equal(t, int64(500), remainder.Amount)
	assert.Equal(t, creditdomain.ReasonSplitRemainder, remainder.Reason)
	assert.Nil(t, remainder.AppliedToInvoiceID)

	require.Len(t, f.events(t, "invoice.created"), 1)
	require.Len(t, f.events(t, "invoice.paid"), 1)
	assert.Len(t, f.events(t, "credit.applied"), 2)
}

func TestGenerateGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedAccount(t)
	plan := f.seedPlan(t, "Pro", 2000)

	_, err := f.svc.GenerateForSubscription(ctx, f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)

	sub := f.seedSubscription(t, account, plan)
	for _, status := range []subscriptiondomain.Status{
		subscriptiondomain.StatusTrialing,
		subscriptiondomain.StatusPaused,
		subscriptiondomain.StatusCancelled,
	} {
		require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).
			Where("id = ?", sub.ID).
			Update("status", status).Error)
		_, err = f.svc.GenerateForSubscription(ctx, sub.ID)
		assert.ErrorIs(t, err, domain.ErrNotBillable, string(status))
	}

	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]any{
			"status":             subscriptiondomain.StatusActive,
			"current_period_end": f.clk.Now().Add(24 * time.Hour),
		}).Error)
	_, err = f.svc.GenerateForSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrPeriodStillOpen)
}

func TestNumbersAreSequential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedAccount(t)
	f.seedTaxRate(t, 0.10)
	plan := f.seedPlan(t, "Pro", 2000)
	sub1 := f.seedSubscription(t, account, plan)
	sub2 := f.seedSubscription(t, account, plan)

	first, err := f.svc.GenerateForSubscription(ctx, sub1.ID)
	require.NoError(t, err)
	second, err := f.svc.GenerateForSubscription(ctx, sub2.ID)
	require.NoError(t, err)

	assert.Equal(t, "INV-000001", first.Number)
	assert.Equal(t, "INV-000002", second.Number)
}

func TestCreateProrationInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedAccount(t)
	f.seedTaxRate(t, 0.10)
	f.seedEndpoint(t)
	starter := f.seedPlan(t, "Starter", 1000)
	pro := f.seedPlan(t, "Pro", 2000)

	// Mid-cycle upgrade: the subscription already points at the new plan
	// and the change lands exactly halfway through the period.
	start := f.clk.Now().Add(-15 * 24 * time.Hour)
	end := f.clk.Now().Add(15 * 24 * time.Hour)
	sub := f.seedSubscriptionPeriod(t, account, pro, start, end)

	id, err := f.svc.CreateProrationInvoice(ctx, f.db, subscriptiondomain.ProrationInvoiceInput{
		Subscription: sub,
		OldPlanID:    starter.ID,
		OldQuantity:  1,
		ChangeAt:     f.clk.Now(),
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	invoice, err := f.svc.GetByID(ctx, domain.GetInvoiceRequest{ID: id.String()})
	require.NoError(t, err)

	assert.Equal(t, domain.OriginProration, invoice.Origin)
	assert.Equal(t, domain.StatusOpen, invoice.Status)
	assert.Equal(t, int64(500), invoice.Subtotal)
	assert.Equal(t, int64(50), invoice.Tax)
	assert.Equal(t, int64(550), invoice.AmountDue)
	assert.Equal(t, true, invoice.Metadata[domain.MetaProration])
	assert.WithinDuration(t, f.clk.Now().Add(7*24*time.Hour), invoice.DueDate, time.Second)
	assert.WithinDuration(t, f.clk.Now(), invoice.PeriodStart, time.Second)
	assert.WithinDuration(t, end, invoice.PeriodEnd, time.Second)

	require.Len(t, invoice.LineItems, 2)
	assert.Equal(t, "proration_credit", invoice.LineItems[0].Type)
	assert.Equal(t, int64(-500), invoice.LineItems[0].Amount)
	assert.Contains(t, invoice.LineItems[0].Description, "Starter")
	assert.Equal(t, "proration_charge", invoice.LineItems[1].Type)
	assert.Equal(t, int64(1000), invoice.LineItems[1].Amount)
	assert.Contains(t, invoice.LineItems[1].Description, "Pro")
}

func TestProrationDowngradeBanksSurplus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedAccount(t)
	f.seedTaxRate(t, 0.10)
	f.seedEndpoint(t)
	pro := f.seedPlan(t, "Pro", 2000)
	starter := f.seedPlan(t, "Starter", 1000)

	start := f.clk.Now().Add(-15 * 24 * time.Hour)
	end := f.clk.Now().Add(15 * 24 * time.Hour)
	sub := f.seedSubscriptionPeriod(t, account, starter, start, end)

	id, err := f.svc.CreateProrationInvoice(ctx, f.db, subscriptiondomain.ProrationInvoiceInput{
		Subscription: sub,
		OldPlanID:    pro.ID,
		OldQuantity:  1,
		ChangeAt:     f.clk.Now(),
	})
	require.NoError(t, err)

	invoice, err := f.svc.GetByID(ctx, domain.GetInvoiceRequest{ID: id.String()})
	require.NoError(t, err)

	// The unused Pro time outweighs the remaining Starter charge; the
	// invoice settles at zero and the difference becomes a credit.
	assert.Equal(t, int64(-500), invoice.Subtotal)
	assert.Zero(t, invoice.Tax)
	assert.Zero(t, invoice.AmountDue)
	assert.Equal(t, domain.StatusPaid, invoice.Status)
	require.NotNil(t, invoice.PaidAt)

	var surplus creditdomain.Credit
	require.NoError(t, f.db.First(&surplus, "account_id = ? AND reason = ?", account.ID, creditdomain.ReasonDowngradeSurplus).Error)
	assert.Equal(t, int64(500), surplus.Amount)
	assert.Nil(t, surplus.AppliedToInvoiceID)

	balance, err := f.creditSvc.Balance(ctx, account.ID.String(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance.Available)

	var entry ledgerdomain.Entry
	require.NoError(t, f.db.First(&entry, "source_type = ? AND source_id = ?", ledgerdomain.SourceRefund, invoice.ID).Error)

	require.Len(t, f.events(t, "invoice.paid"), 1)
	require.Len(t, f.events(t, "credit.created"), 1)
}

func TestVoidOpenInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedAccount(t)
	f.seedTaxRate(t, 0.10)
	f.seedEndpoint(t)
	plan := f.seedPlan(t, "Pro", 2000)
	sub := f.seedSubscription(t, account, plan)
	f.seedDefaultMethod(t, account)

	invoice, err := f.svc.GenerateForSubscription(ctx, sub.ID)
	require.NoError(t, err)

	voided, err := f.svc.Void(ctx, domain.VoidInvoiceRequest{ID: invoice.ID.String(), Reason: "billing error"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVoid, voided.Status)
	require.NotNil(t, voided.VoidedAt)
	assert.Equal(t, "billing error", voided.Metadata[domain.MetaVoidReason])

	// The queued attempt is frozen with the invoice.
	var payment paymentdomain.Payment
	require.NoError(t, f.db.First(&payment, "invoice_id = ?", invoice.ID).Error)
	assert.Equal(t, paymentdomain.StatusCancelled, payment.Status)
	assert.Nil(t, payment.NextRetryAt)

	// The uncollected balance is written off.
	var entry ledgerdomain.Entry
	require.NoError(t, f.db.First(&entry, "source_type = ? AND source_id = ?", ledgerdomain.SourceAdjustment, invoice.ID).Error)

	events := f.events(t, "invoice.voided")
	require.Len(t, events, 1)
	assert.Equal(t, "billing error", events[0].Payload["reason"])

	_, err = f.svc.Void(ctx, domain.VoidInvoiceRequest{ID: invoice.ID.String(), Reason: "again"})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	_, err = f.svc.Void(ctx, domain.VoidInvoiceRequest{ID: invoice.ID.String(), Reason: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidReason)

	_, err = f.svc.Void(ctx, domain.VoidInvoiceRequest{ID: "12345", Reason: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Void(ctx, domain.VoidInvoiceRequest{ID: "abc", Reason: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestVoidPaidInvoiceReversal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedAccount(t)
	f.seedTaxRate(t, 0.10)
	f.seedEndpoint(t)
	plan := f.seedPlan(t, "Pro", 2000)
	sub := f.seedSubscription(t, account, plan)

	invoice, err := f.svc.GenerateForSubscription(ctx, sub.ID)
	require.NoError(t, err)

	paidAt := f.clk.Now()
	require.NoError(t, f.db.Exec(
		`UPDATE invoices SET status = ?, amount_due = 0, amount_paid = 2200, paid_at = ? WHERE id = ?`,
		domain.StatusPaid, paidAt, invoice.ID,
	).Error)

	_, err = f.svc.Void(ctx, domain.VoidInvoiceRequest{ID: invoice.ID.String(), Reason: "dispute"})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	voided, err := f.svc.Void(ctx, domain.VoidInvoiceRequest{
		ID:                invoice.ID.String(),
		Reason:            "dispute",
		AllowPaidReversal: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVoid, voided.Status)

	var refund creditdomain.Credit
	require.NoError(t, f.db.First(&refund, "account_id = ? AND reason = ?", account.ID, creditdomain.ReasonRefundFromVoid).Error)
	assert.Equal(t, int64(2200), refund.Amount)

	balance, err := f.creditSvc.Balance(ctx, account.ID.String(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(2200), balance.Available)

	var entry ledgerdomain.Entry
	require.NoError(t, f.db.First(&entry, "source_type = ? AND source_id = ?", ledgerdomain.SourceRefund, invoice.ID).Error)

	// Nothing was left uncollected, so no write-off is posted.
	var adjustments int64
	require.NoError(t, f.db.Model(&ledgerdomain.Entry{}).
		Where("source_type = ? AND source_id = ?", ledgerdomain.SourceAdjustment, invoice.ID).
		Count(&adjustments).Error)
	assert.Zero(t, adjustments)
}

func TestSweepOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedAccount(t)
	f.seedEndpoint(t)
	overdue := f.seedOpenInvoice(t, account, 2200, f.clk.Now().Add(-time.Hour))
	fresh := f.seedOpenInvoice(t, account, 900, f.clk.Now().Add(7*24*time.Hour))

	swept, err := f.svc.SweepOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	assert.Equal(t, domain.StatusPastDue, f.reloadInvoice(t, overdue.ID).Status)
	assert.Equal(t, domain.StatusOpen, f.reloadInvoice(t, fresh.ID).Status)
	require.Len(t, f.events(t, "invoice.past_due"), 1)

	swept, err = f.svc.SweepOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestReconcileLateUsageExtendsOpenInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedAccount(t)
	f.seedTaxRate(t, 0.10)
	f.seedEndpoint(t)
	plan := f.seedMeteredPlan(t, "API", 0, []plandomain.PlanTier{{UnitAmount: 5}})
	sub := f.seedSubscription(t, account, plan)
	f.seedUsage(t, sub, "api_calls", 100, sub.CurrentPeriodStart.Add(10*24*time.Hour), sub.CurrentPeriodStart.Add(10*24*time.Hour))

	invoice, err := f.svc.GenerateForSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(550), invoice.AmountDue)

	periodEnd := sub.CurrentPeriodEnd
	late := f.seedUsage(t, sub, "api_calls", 20, periodEnd.Add(-5*24*time.Hour), periodEnd.Add(24*time.Hour))
	f.clk.Advance(24 * time.Hour)

	handled, err := f.svc.ReconcileLateUsage(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	reloaded := f.reloadInvoice(t, invoice.ID)
	assert.Equal(t, int64(600), reloaded.Subtotal)
	assert.Equal(t, int64(60), reloaded.Tax)
	assert.Equal(t, int64(660), reloaded.AmountDue)
	assert.Equal(t, domain.StatusOpen, reloaded.Status)

	items := f.lineItems(t, invoice.ID)
	require.Len(t, items, 3)
	lateLine := items[2]
	assert.Equal(t, "late_usage", lateLine.Type)
	assert.Equal(t, int64(20), lateLine.Quantity)
	assert.Equal(t, int64(100), lateLine.Amount)

	var record usagedomain.UsageRecord
	require.NoError(t, f.db.First(&record, "id = ?", late.ID).Error)
	assert.Equal(t, usagedomain.RecordStatusBilled, record.Status)
	require.NotNil(t, record.InvoiceID)
	assert.Equal(t, invoice.ID, *record.InvoiceID)

	var entry ledgerdomain.Entry
	require.NoError(t, f.db.First(&entry, "source_type = ? AND source_id = ?", ledgerdomain.SourceAdjustment, late.ID).Error)

	updated := f.events(t, "invoice.updated")
	require.Len(t, updated, 1)
	assert.Equal(t, true, updated[0].Payload["late_usage"])
}

func TestReconcileLateUsageIssuesSupplemental(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedAccount(t)
	f.seedTaxRate(t, 0.10)
	f.seedEndpoint(t)
	plan := f.seedMeteredPlan(t, "API", 0, []plandomain.PlanTier{{UnitAmount: 5}})
	sub := f.seedSubscription(t, account, plan)
	f.seedUsage(t, sub, "api_calls", 100, sub.CurrentPeriodStart.Add(10*24*time.Hour), sub.CurrentPeriodStart.Add(10*24*time.Hour))

	invoice, err := f.svc.GenerateForSubscription(ctx, sub.ID)
	require.NoError(t, err)

	require.NoError(t, f.db.Exec(
		`UPDATE invoices SET status = ?, amount_due = 0, amount_paid = 550, paid_at = ? WHERE id = ?`,
		domain.StatusPaid, f.clk.Now(), invoice.ID,
	).Error)

	periodEnd := sub.CurrentPeriodEnd
	late := f.seedUsage(t, sub, "api_calls", 20, periodEnd.Add(-5*24*time.Hour), periodEnd.Add(24*time.Hour))
	f.clk.Advance(24 * time.Hour)

	handled, err := f.svc.ReconcileLateUsage(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	// The paid period invoice is immutable; the marginal charge rides a
	// fresh supplemental invoice for the same period.
	original := f.reloadInvoice(t, invoice.ID)
	assert.Equal(t, int64(500), original.Subtotal)
	assert.Equal(t, domain.StatusPaid, original.Status)

	var supplemental domain.Invoice
	require.NoError(t, f.db.First(&supplemental, "origin = ?", domain.OriginSupplemental).Error)
	assert.Equal(t, "INV-000002", supplemental.Number)
	assert.Equal(t, domain.StatusOpen, supplemental.Status)
	assert.Equal(t, int64(100), supplemental.Subtotal)
	assert.Equal(t, int64(10), supplemental.Tax)
	assert.Equal(t, int64(110), supplemental.AmountDue)
	assert.Equal(t, true, supplemental.Metadata[domain.MetaSupplemental])
	assert.WithinDuration(t, sub.CurrentPeriodStart, supplemental.PeriodStart, time.Second)
	assert.WithinDuration(t, sub.CurrentPeriodEnd, supplemental.PeriodEnd, time.Second)

	var record usagedomain.UsageRecord
	require.NoError(t, f.db.First(&record, "id = ?", late.ID).Error)
	assert.Equal(t, usagedomain.RecordStatusBilled, record.Status)
	require.NotNil(t, record.InvoiceID)
	assert.Equal(t, supplemental.ID, *record.InvoiceID)

	assert.Len(t, f.events(t, "invoice.created"), 2)
}

func TestReconcileLateUsageDropsPastGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedAccount(t)
	f.seedTaxRate(t, 0.10)
	plan := f.seedMeteredPlan(t, "API", 0, []plandomain.PlanTier{{UnitAmount: 5}})
	sub := f.seedSubscription(t, account, plan)
	f.seedUsage(t, sub, "api_calls", 100, sub.CurrentPeriodStart.Add(10*24*time.Hour), sub.CurrentPeriodStart.Add(10*24*time.Hour))

	invoice, err := f.svc.GenerateForSubscription(ctx, sub.ID)
	require.NoError(t, err)

	periodEnd := sub.CurrentPeriodEnd
	late := f.seedUsage(t, sub, "api_calls", 20, periodEnd.Add(-5*24*time.Hour), periodEnd.Add(time.Hour))
	f.clk.Advance(8 * 24 * time.Hour)

	handled, err := f.svc.ReconcileLateUsage(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	// Retained for audit, never billed.
	var record usagedomain.UsageRecord
	require.NoError(t, f.db.First(&record, "id = ?", late.ID).Error)
	assert.Equal(t, usagedomain.RecordStatusDropped, record.Status)
	assert.Nil(t, record.InvoiceID)

	reloaded := f.reloadInvoice(t, invoice.ID)
	assert.Equal(t, int64(550), reloaded.AmountDue)
	assert.Empty(t, f.events(t, "invoice.updated"))
}

func TestListInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.seedAccount(t)

	due := f.clk.Now().Add(7 * 24 * time.Hour)
	a1 := f.seedOpenInvoice(t, account, 100, due)
	f.clk.Advance(time.Second)
	a2 := f.seedOpenInvoice(t, account, 200, due)
	f.clk.Advance(time.Second)
	a3 := f.seedOpenInvoice(t, account, 300, due)

	first, err := f.svc.List(ctx, domain.ListInvoiceRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		AccountID:  account.ID.String(),
	})
	require.NoError(t, err)
	require.Len(t, first.Invoices, 2)
	assert.Equal(t, a3.ID, first.Invoices[0].ID)
	assert.Equal(t, a2.ID, first.Invoices[1].ID)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	second, err := f.svc.List(ctx, domain.ListInvoiceRequest{
		Pagination: pagination.Pagination{PageToken: first.NextPageToken, PageSize: 2},
		AccountID:  account.ID.String(),
	})
	require.NoError(t, err)
	require.Len(t, second.Invoices, 1)
	assert.Equal(t, a1.ID, second.Invoices[0].ID)
	assert.False(t, second.HasMore)

	require.NoError(t, f.db.Exec(`UPDATE invoices SET status = ? WHERE id = ?`, domain.StatusPaid, a2.ID).Error)
	paid, err := f.svc.List(ctx, domain.ListInvoiceRequest{AccountID: account.ID.String(), Status: "paid"})
	require.NoError(t, err)
	require.Len(t, paid.Invoices, 1)
	assert.Equal(t, a2.ID, paid.Invoices[0].ID)

	_, err = f.svc.List(ctx, domain.ListInvoiceRequest{Status: "overdue"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = f.svc.List(ctx, domain.ListInvoiceRequest{AccountID: "abc"})
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}
