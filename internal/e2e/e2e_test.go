// Package e2e drives the billing engine through its public service APIs
// with a fake clock, covering full lifecycle flows across modules.
package e2e

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
	accountservice "github.com/recurhq/recur/internal/account/service"
	analyticsdomain "github.com/recurhq/recur/internal/analytics/domain"
	analyticsservice "github.com/recurhq/recur/internal/analytics/service"
	auditdomain "github.com/recurhq/recur/internal/audit/domain"
	auditrepository "github.com/recurhq/recur/internal/audit/repository"
	auditservice "github.com/recurhq/recur/internal/audit/service"
	"github.com/recurhq/recur/internal/authorization"
	"github.com/recurhq/recur/internal/cache"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/config"
	creditdomain "github.com/recurhq/recur/internal/credit/domain"
	creditrepository "github.com/recurhq/recur/internal/credit/repository"
	creditservice "github.com/recurhq/recur/internal/credit/service"
	dunningservice "github.com/recurhq/recur/internal/dunning/service"
	gatewaydomain "github.com/recurhq/recur/internal/gateway/domain"
	"github.com/recurhq/recur/internal/gateway/sandbox"
	invoicedomain "github.com/recurhq/recur/internal/invoice/domain"
	invoicerepository "github.com/recurhq/recur/internal/invoice/repository"
	invoiceservice "github.com/recurhq/recur/internal/invoice/service"
	ledgerdomain "github.com/recurhq/recur/internal/ledger/domain"
	ledgerservice "github.com/recurhq/recur/internal/ledger/service"
	"github.com/recurhq/recur/internal/notification"
	paymentdomain "github.com/recurhq/recur/internal/payment/domain"
	paymentrepository "github.com/recurhq/recur/internal/payment/repository"
	paymentservice "github.com/recurhq/recur/internal/payment/service"
	paymentmethoddomain "github.com/recurhq/recur/internal/paymentmethod/domain"
	paymentmethodrepository "github.com/recurhq/recur/internal/paymentmethod/repository"
	paymentmethodservice "github.com/recurhq/recur/internal/paymentmethod/service"
	plandomain "github.com/recurhq/recur/internal/plan/domain"
	planrepository "github.com/recurhq/recur/internal/plan/repository"
	planservice "github.com/recurhq/recur/internal/plan/service"
	"github.com/recurhq/recur/internal/scheduler"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	subscriptionrepository "github.com/recurhq/recur/internal/subscription/repository"
	subscriptionservice "github.com/recurhq/recur/internal/subscription/service"
	taxdomain "github.com/recurhq/recur/internal/tax/domain"
	taxrepository "github.com/recurhq/recur/internal/tax/repository"
	taxservice "github.com/recurhq/recur/internal/tax/service"
	usagedomain "github.com/recurhq/recur/internal/usage/domain"
	usagerepository "github.com/recurhq/recur/internal/usage/repository"
	usageservice "github.com/recurhq/recur/internal/usage/service"
	webhookdomain "github.com/recurhq/recur/internal/webhook/domain"
	webhookrepository "github.com/recurhq/recur/internal/webhook/repository"
	webhookservice "github.com/recurhq/recur/internal/webhook/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type recordingSink struct {
	notices []notification.Notice
}

func (r *recordingSink) Send(_ context.Context, notice notification.Notice) error {
	r.notices = append(r.notices, notice)
	return nil
}

type fixture struct {
	db   *gorm.DB
	clk  *clock.FakeClock
	node *snowflake.Node
	sink *recordingSink

	gateway *sandbox.Gateway

	accountSvc accountdomain.Service
	methodSvc  paymentmethoddomain.Service
	planSvc    plandomain.Service
	subSvc     subscriptiondomain.Service
	usageSvc   usagedomain.Service
	paymentSvc paymentdomain.Service
	creditSvc  creditdomain.Service
	webhookSvc webhookdomain.Service

	sched *scheduler.Scheduler
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
		&subscriptiondomain.SubscriptionHistory{},
		&usagedomain.UsageRecord{},
		&paymentmethoddomain.PaymentMethod{},
		&paymentdomain.Payment{},
		&invoicedomain.Invoice{},
		&invoicedomain.LineItem{},
		&invoicedomain.Counter{},
		&creditdomain.Credit{},
		&taxdomain.TaxRate{},
		&webhookdomain.Endpoint{},
		&webhookdomain.Event{},
		&ledgerdomain.Account{},
		&ledgerdomain.Entry{},
		&ledgerdomain.Line{},
		&analyticsdomain.Snapshot{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	log := zap.NewNop()

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})
	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		AuditSvc: auditSvc,
	})
	require.NoError(t, ledgerSvc.EnsureAccounts(context.Background()))

	outbox := webhookservice.NewOutbox(webhookservice.OutboxParams{
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  webhookrepository.Provide(),
	})
	creditSvc := creditservice.New(creditservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Repo:        creditrepository.Provide(),
		AccountRepo: accountrepository.Provide(),
		Ledger:      ledgerSvc,
		Outbox:      outbox,
	})

	oracle := taxservice.NewOracle(taxservice.OracleParams{
		Config: config.Config{},
		DB:     db,
		Log:    log,
		Repo:   taxrepository.Provide(),
	})
	resolver := taxservice.NewResolver(taxservice.ResolverParams{
		Log:     log,
		Oracle:  oracle,
		Billing: billing,
	})

	invoiceSvc := invoiceservice.New(invoiceservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Billing:     billing,
		Repo:        invoicerepository.Provide(),
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
	subSvc := subscriptionservice.New(subscriptionservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Repo:        subscriptionrepository.Provide(),
		AccountRepo: accountrepository.Provide(),
		PlanRepo:    planrepository.Provide(),
		Outbox:      outbox,
		Prorator:    invoiceSvc,
	})

	gatewayIface, err := sandbox.NewFactory().New(gatewaydomain.Config{})
	require.NoError(t, err)
	gw := gatewayIface.(*sandbox.Gateway)

	paymentSvc := paymentservice.New(paymentservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Billing:     billing,
		Repo:        paymentrepository.Provide(),
		InvoiceRepo: invoicerepository.Provide(),
		MethodRepo:  paymentmethodrepository.Provide(),
		SubRepo:     subscriptionrepository.Provide(),
		AccountRepo: accountrepository.Provide(),
		Gateway:     gw,
		SubSvc:      subSvc,
		LedgerSvc:   ledgerSvc,
		Outbox:      outbox,
	})

	sink := &recordingSink{}
	dunningSvc := dunningservice.New(dunningservice.Params{
		DB:          db,
		Log:         log,
		Billing:     billing,
		InvoiceRepo: invoicerepository.Provide(),
		AccountRepo: accountrepository.Provide(),
		Sink:        sink,
	})
	analyticsSvc := analyticsservice.New(analyticsservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
	})
	dispatcher := webhookservice.NewDispatcher(webhookservice.DispatcherParams{
		DB:    db,
		Log:   log,
		Clock: clk,
		Repo:  webhookrepository.Provide(),
	})

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{
		DB:       db,
		Log:      log,
		Enforcer: enforcer,
	})

	accountSvc := accountservice.New(accountservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  accountrepository.Provide(),
	})
	methodSvc := paymentmethodservice.New(paymentmethodservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Repo:        paymentmethodrepository.Provide(),
		AccountRepo: accountrepository.Provide(),
	})
	planSvc := planservice.New(planservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  planrepository.Provide(),
	})
	usageSvc := usageservice.New(usageservice.Params{
		DB:               db,
		Log:              log,
		GenID:            node,
		Clock:            clk,
		Repo:             usagerepository.Provide(),
		SubscriptionRepo: subscriptionrepository.Provide(),
		Resolver:         cache.NewResolverCache(config.Config{}),
	})
	webhookSvc := webhookservice.New(webhookservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  webhookrepository.Provide(),
	})

	sched, err := scheduler.New(scheduler.Params{
		DB:              db,
		Log:             log,
		GenID:           node,
		Clock:           clk,
		Billing:         billing,
		SubRepo:         subscriptionrepository.Provide(),
		PlanRepo:        planrepository.Provide(),
		InvoiceSvc:      invoiceSvc,
		SubscriptionSvc: subSvc,
		PaymentSvc:      paymentSvc,
		DunningSvc:      dunningSvc,
		AnalyticsSvc:    analyticsSvc,
		Dispatcher:      dispatcher,
		AuditSvc:        auditSvc,
		AuthzSvc:        authzSvc,
		Config:          scheduler.Config{},
	})
	require.NoError(t, err)

	return &fixture{
		db:         db,
		clk:        clk,
		node:       node,
		sink:       sink,
		gateway:    gw,
		accountSvc: accountSvc,
		methodSvc:  methodSvc,
		planSvc:    planSvc,
		subSvc:     subSvc,
		usageSvc:   usageSvc,
		paymentSvc: paymentSvc,
		creditSvc:  creditSvc,
		webhookSvc: webhookSvc,
		sched:      sched,
	}
}

// sqlite has no row locking; drop the clauses so claim queries parse.
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

func (f *fixture) createAccount(t *testing.T, taxExempt bool) accountdomain.Account {
	t.Helper()
	account, err := f.accountSvc.Create(context.Background(), accountdomain.CreateAccountRequest{
		Name:      "Acme",
		Email:     fmt.Sprintf("billing+%s@acme.test", f.node.Generate()),
		Currency:  "USD",
		Timezone:  "UTC",
		TaxExempt: taxExempt,
	})
	require.NoError(t, err)
	return account
}

func (f *fixture) createFlatPlan(t *testing.T, amount int64) plandomain.Plan {
	t.Helper()
	plan, err := f.planSvc.Create(context.Background(), plandomain.CreatePlanRequest{
		Name:     "Pro " + f.node.Generate().String(),
		Interval: "month",
		Amount:   amount,
		Currency: "USD",
	})
	require.NoError(t, err)
	return plan
}

func (f *fixture) addDefaultMethod(t *testing.T, accountID snowflake.ID, token string) paymentmethoddomain.PaymentMethod {
	t.Helper()
	method, err := f.methodSvc.Add(context.Background(), paymentmethoddomain.AddPaymentMethodRequest{
		AccountID:    accountID.String(),
		GatewayToken: token,
		Brand:        "visa",
		Last4:        "4242",
		ExpMonth:     12,
		ExpYear:      2032,
		MakeDefault:  true,
	})
	require.NoError(t, err)
	return method
}

func (f *fixture) createSubscription(t *testing.T, accountID, planID snowflake.ID) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.subSvc.Create(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		AccountID: accountID.String(),
		PlanID:    planID.String(),
		Quantity:  1,
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) subscribeWebhook(t *testing.T, events ...string) webhookdomain.Endpoint {
	t.Helper()
	endpoint, err := f.webhookSvc.CreateEndpoint(context.Background(), webhookdomain.CreateEndpointRequest{
		URL:    "https://hooks.acme.test/" + f.node.Generate().String(),
		Events: events,
	})
	require.NoError(t, err)
	return endpoint
}

func (f *fixture) cycleInvoice(t *testing.T, subscriptionID snowflake.ID) invoicedomain.Invoice {
	t.Helper()
	var invoice invoicedomain.Invoice
	require.NoError(t, f.db.
		Where("subscription_id = ? AND origin = ?", subscriptionID, invoicedomain.OriginCycle).
		Order("created_at DESC").
		First(&invoice).Error)
	return invoice
}

func (f *fixture) reloadInvoice(t *testing.T, id snowflake.ID) invoicedomain.Invoice {
	t.Helper()
	var invoice invoicedomain.Invoice
	require.NoError(t, f.db.First(&invoice, "id = ?", id).Error)
	return invoice
}

func (f *fixture) reloadAccount(t *testing.T, id snowflake.ID) accountdomain.Account {
	t.Helper()
	var account accountdomain.Account
	require.NoError(t, f.db.First(&account, "id = ?", id).Error)
	return account
}

func (f *fixture) reloadSubscription(t *testing.T, id snowflake.ID) subscriptiondomain.Subscription {
	t.Helper()
	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "id = ?", id).Error)
	return sub
}

func (f *fixture) reloadCredit(t *testing.T, id snowflake.ID) creditdomain.Credit {
	t.Helper()
	var credit creditdomain.Credit
	require.NoError(t, f.db.First(&credit, "id = ?", id).Error)
	return credit
}

func (f *fixture) lineItems(t *testing.T, invoiceID snowflake.ID) []invoicedomain.LineItem {
	t.Helper()
	var lines []invoicedomain.LineItem
	require.NoError(t, f.db.
		Where("invoice_id = ?", invoiceID).
		Order("position ASC").
		Find(&lines).Error)
	return lines
}

func (f *fixture) invoicePayment(t *testing.T, invoiceID snowflake.ID) paymentdomain.Payment {
	t.Helper()
	var payment paymentdomain.Payment
	require.NoError(t, f.db.
		Where("invoice_id = ?", invoiceID).
		Order("created_at DESC").
		First(&payment).Error)
	return payment
}

func (f *fixture) eventCount(t *testing.T, endpointID snowflake.ID, eventType string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&webhookdomain.Event{}).
		Where("endpoint_id = ? AND event_type = ?", endpointID, eventType).
		Count(&count).Error)
	return count
}
