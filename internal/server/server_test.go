package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
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
	gatewaydomain "github.com/recurhq/recur/internal/gateway/domain"
	"github.com/recurhq/recur/internal/gateway/sandbox"
	invoicedomain "github.com/recurhq/recur/internal/invoice/domain"
	invoicerender "github.com/recurhq/recur/internal/invoice/render"
	invoicerepository "github.com/recurhq/recur/internal/invoice/repository"
	invoiceservice "github.com/recurhq/recur/internal/invoice/service"
	ledgerdomain "github.com/recurhq/recur/internal/ledger/domain"
	ledgerservice "github.com/recurhq/recur/internal/ledger/service"
	"github.com/recurhq/recur/internal/observability"
	paymentdomain "github.com/recurhq/recur/internal/payment/domain"
	paymentrepository "github.com/recurhq/recur/internal/payment/repository"
	paymentservice "github.com/recurhq/recur/internal/payment/service"
	paymentmethoddomain "github.com/recurhq/recur/internal/paymentmethod/domain"
	paymentmethodrepository "github.com/recurhq/recur/internal/paymentmethod/repository"
	paymentmethodservice "github.com/recurhq/recur/internal/paymentmethod/service"
	plandomain "github.com/recurhq/recur/internal/plan/domain"
	planrepository "github.com/recurhq/recur/internal/plan/repository"
	planservice "github.com/recurhq/recur/internal/plan/service"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	subscriptionrepository "github.com/recurhq/recur/internal/subscription/repository"
	subscriptionservice "github.com/recurhq/recur/internal/subscription/service"
	taxdomain "github.com/recurhq/recur/internal/tax/domain"
	taxrepository "github.com/recurhq/recur/internal/tax/repository"
	taxservice "github.com/recurhq/recur/internal/tax/service"
	usagedomain "github.com/recurhq/recur/internal/usage/domain"
	"github.com/recurhq/recur/internal/usage/liveevents"
	usagerepository "github.com/recurhq/recur/internal/usage/repository"
	usageservice "github.com/recurhq/recur/internal/usage/service"
	webhookdomain "github.com/recurhq/recur/internal/webhook/domain"
	webhookrepository "github.com/recurhq/recur/internal/webhook/repository"
	webhookservice "github.com/recurhq/recur/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	actorSystem = "system"
)

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

type serverFixture struct {
	engine *gin.Engine
	db     *gorm.DB
	clk    *clock.FakeClock
	node   *snowflake.Node
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	log := zap.NewNop()
	ctx := context.Background()

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
	require.NoError(t, ledgerSvc.EnsureAccounts(ctx))

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

	gateway, err := sandbox.NewFactory().New(gatewaydomain.Config{})
	require.NoError(t, err)

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
		Gateway:     gateway,
		SubSvc:      subSvc,
		LedgerSvc:   ledgerSvc,
		Outbox:      outbox,
	})

	accountSvc := accountservice.New(accountservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  accountrepository.Provide(),
	})
	paymentMethodSvc := paymentmethodservice.New(paymentmethodservice.Params{
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
	hub := liveevents.NewHub()
	usageSvc := usageservice.New(usageservice.Params{
		DB:               db,
		Log:              log,
		GenID:            node,
		Clock:            clk,
		Repo:             usagerepository.Provide(),
		SubscriptionRepo: subscriptionrepository.Provide(),
		Resolver:         cache.NewResolverCache(config.Config{}),
		Hub:              hub,
	})
	webhookSvc := webhookservice.New(webhookservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  webhookrepository.Provide(),
	})
	analyticsSvc := analyticsservice.New(analyticsservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
	})

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{
		DB:       db,
		Log:      log,
		Enforcer: enforcer,
		AuditSvc: auditSvc,
	})

	engine := NewEngine(observability.Config{}, nil)
	NewServer(ServerParams{
		Gin:              engine,
		Cfg:              config.Config{},
		DB:               db,
		GenID:            node,
		Clock:            clk,
		AuthzSvc:         authzSvc,
		AuditSvc:         auditSvc,
		AccountSvc:       accountSvc,
		PaymentMethodSvc: paymentMethodSvc,
		PlanSvc:          planSvc,
		SubscriptionSvc:  subSvc,
		UsageSvc:         usageSvc,
		LiveUsage:        hub,
		InvoiceSvc:       invoiceSvc,
		InvoiceRenderer:  invoicerender.NewRenderer(),
		PaymentSvc:       paymentSvc,
		CreditSvc:        creditSvc,
		WebhookSvc:       webhookSvc,
		LedgerSvc:        ledgerSvc,
		AnalyticsSvc:     analyticsSvc,
		Gateway:          gateway,
	})

	return &serverFixture{engine: engine, db: db, clk: clk, node: node}
}

func (f *serverFixture) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(HeaderActor, actor)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Data
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var body struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func (f *serverFixture) createAccount(t *testing.T, email string) map[string]any {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/accounts", actorSystem, map[string]any{
		"name":       "Acme",
		"email":      email,
		"currency":   "USD",
		"timezone":   "UTC",
		"tax_exempt": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeData(t, rec)
}

func (f *serverFixture) createPlan(t *testing.T, amount int64) map[string]any {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/plans", actorSystem, map[string]any{
		"name":     "Pro",
		"interval": "month",
		"amount":   amount,
		"currency": "USD",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeData(t, rec)
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestActorRequired(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/accounts", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/accounts", "intruder", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReadonlyActorForbiddenToWrite(t *testing.T) {
	f := newServerFixture(t)
	reader := "readonly:" + f.node.Generate().String()

	rec := f.do(t, http.MethodPost, "/v1/accounts", reader, map[string]any{
		"name": "Acme", "email": "ro@acme.test", "currency": "USD",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// The denial lands in the audit trail.
	rec = f.do(t, http.MethodGet, "/v1/audit-logs?action=authorization.denied", actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decodeList(t, rec))

	// Views stay open to readonly actors.
	rec = f.do(t, http.MethodGet, "/v1/accounts", reader, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminActorCannotRecordPayments(t *testing.T) {
	f := newServerFixture(t)
	admin := "admin:" + f.node.Generate().String()

	rec := f.do(t, http.MethodPost, "/v1/payments", admin, map[string]any{
		"invoice_id": f.node.Generate().String(),
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAccountLifecycle(t *testing.T) {
	f := newServerFixture(t)

	account := f.createAccount(t, "owner@acme.test")
	id := account["id"].(string)
	assert.Equal(t, "owner@acme.test", account["email"])
	assert.Equal(t, "active", account["status"])

	rec := f.do(t, http.MethodGet, "/v1/accounts/"+id, actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPatch, "/v1/accounts/"+id, actorSystem, map[string]any{"name": "Acme Corp"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Acme Corp", decodeData(t, rec)["name"])

	rec = f.do(t, http.MethodPost, "/v1/accounts/"+id+"/block", actorSystem, map[string]any{"reason": "fraud review"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "blocked", decodeData(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/v1/audit-logs?action=account.blocked", actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decodeList(t, rec))

	rec = f.do(t, http.MethodPost, "/v1/accounts/"+id+"/unblock", actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decodeData(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/v1/accounts?email=owner@acme.test", actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeList(t, rec), 1)
}

func TestCreateAccountValidationErrorShape(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/accounts", actorSystem, map[string]any{"email": "x@acme.test"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	payload := decodeError(t, rec)
	assert.Equal(t, "validation", payload.Type)
	require.NotEmpty(t, payload.Errors)
	assert.Equal(t, "invalid_name", payload.Errors[0].Code)
	assert.Equal(t, "name", payload.Errors[0].Field)
}

func TestGetAccountNotFound(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/accounts/"+f.node.Generate().String(), actorSystem, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)

	rec = f.do(t, http.MethodGet, "/v1/accounts/not-a-snowflake", actorSystem, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBillingFlowThroughAPI(t *testing.T) {
	f := newServerFixture(t)

	plan := f.createPlan(t, 5000)
	account := f.createAccount(t, "billing@acme.test")
	accountID := account["id"].(string)

	rec := f.do(t, http.MethodPost, "/v1/accounts/"+accountID+"/payment-methods", actorSystem, map[string]any{
		"account_id":    accountID,
		"gateway_token": "tok_" + f.node.Generate().String(),
		"brand":         "visa",
		"last4":         "4242",
		"exp_month":     12,
		"exp_year":      2031,
		"make_default":  true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/subscriptions", actorSystem, map[string]any{
		"account_id": accountID,
		"plan_id":    plan["id"],
		"quantity":   1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decodeData(t, rec)
	subID := sub["id"].(string)
	assert.Equal(t, "active", sub["status"])

	// Rewind the paid window so the period is closed and billable.
	now := f.clk.Now()
	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", subID).
		Updates(map[string]any{
			"current_period_start": now.Add(-30 * 24 * time.Hour),
			"current_period_end":   now,
		}).Error)

	rec = f.do(t, http.MethodPost, "/v1/invoices/generate", actorSystem, map[string]any{"subscription_id": subID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	invoice := decodeData(t, rec)
	invoiceID := invoice["id"].(string)
	assert.Equal(t, "open", invoice["status"])

	// Same closed period twice is a conflict, not a second invoice.
	rec = f.do(t, http.MethodPost, "/v1/invoices/generate", actorSystem, map[string]any{"subscription_id": subID})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// Generation enqueued the initial attempt row.
	rec = f.do(t, http.MethodGet, "/v1/payments?invoice_id="+invoiceID, actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payments := decodeList(t, rec)
	require.Len(t, payments, 1)
	paymentID := payments[0]["id"].(string)
	assert.Equal(t, "pending", payments[0]["status"])

	rec = f.do(t, http.MethodPost, "/v1/payments/"+paymentID+"/succeed", actorSystem, map[string]any{"txn_id": "txn_123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "succeeded", decodeData(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/v1/invoices/"+invoiceID, actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", decodeData(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/v1/invoices/"+invoiceID+"/html", actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Acme")

	// Money movement landed in the journal.
	rec = f.do(t, http.MethodGet, "/v1/ledger/entries", actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decodeList(t, rec))

	rec = f.do(t, http.MethodGet, "/v1/ledger/balances?currency=USD", actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUsageIngestListAggregate(t *testing.T) {
	f := newServerFixture(t)

	plan := f.createPlan(t, 1000)
	account := f.createAccount(t, "usage@acme.test")

	rec := f.do(t, http.MethodPost, "/v1/subscriptions", actorSystem, map[string]any{
		"account_id": account["id"],
		"plan_id":    plan["id"],
		"quantity":   1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	subID := decodeData(t, rec)["id"].(string)

	for i := 0; i < 3; i++ {
		rec = f.do(t, http.MethodPost, "/v1/usage", actorSystem, map[string]any{
			"subscription_id": subID,
			"metric":          "api_calls",
			"quantity":        10,
			"idempotency_key": fmt.Sprintf("usage-%d", i),
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	// Replaying a key returns the stored row, not a fourth one.
	rec = f.do(t, http.MethodPost, "/v1/usage", actorSystem, map[string]any{
		"subscription_id": subID,
		"metric":          "api_calls",
		"quantity":        999,
		"idempotency_key": "usage-0",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/usage?subscription_id="+subID, actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeList(t, rec), 3)

	query := url.Values{}
	query.Set("subscription_id", subID)
	query.Set("from", f.clk.Now().Add(-time.Hour).Format(time.RFC3339))
	query.Set("to", f.clk.Now().Add(time.Hour).Format(time.RFC3339))
	rec = f.do(t, http.MethodGet, "/v1/usage/aggregate?"+query.Encode(), actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var aggregate struct {
		Data usagedomain.AggregateUsageResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &aggregate))
	require.Len(t, aggregate.Data.Totals, 1)
	assert.Equal(t, "api_calls", aggregate.Data.Totals[0].Metric)
	assert.Equal(t, int64(30), aggregate.Data.Totals[0].Quantity)
}

func TestWebhookEndpointCRUD(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/webhook-endpoints", actorSystem, map[string]any{
		"url":    "https://hooks.acme.test/billing",
		"events": []string{"invoice.created", "payment.succeeded"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	endpointID := decodeData(t, rec)["id"].(string)

	rec = f.do(t, http.MethodGet, "/v1/webhook-endpoints", actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeList(t, rec), 1)

	rec = f.do(t, http.MethodPatch, "/v1/webhook-endpoints/"+endpointID, actorSystem, map[string]any{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeData(t, rec)["active"])

	rec = f.do(t, http.MethodGet, "/v1/webhook-events", actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/webhook-endpoints/"+endpointID, actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/webhook-endpoints/"+endpointID, actorSystem, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreditGrantAndBalance(t *testing.T) {
	f := newServerFixture(t)
	account := f.createAccount(t, "credit@acme.test")
	accountID := account["id"].(string)

	rec := f.do(t, http.MethodPost, "/v1/credits", actorSystem, map[string]any{
		"account_id": accountID,
		"amount":     2500,
		"reason":     "goodwill",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/accounts/"+accountID+"/credit-balance", actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeData(t, rec)
	assert.Equal(t, float64(2500), balance["available"])
	assert.Equal(t, "USD", balance["currency"])

	rec = f.do(t, http.MethodGet, "/v1/credits?account_id="+accountID, actorSystem, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeList(t, rec), 1)
}

func TestCallbackRejectsUnknownProvider(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/callbacks/bogus", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
