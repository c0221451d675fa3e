package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/recurhq/recur/internal/account"
	accountdomain "github.com/recurhq/recur/internal/account/domain"
	"github.com/recurhq/recur/internal/analytics"
	analyticsdomain "github.com/recurhq/recur/internal/analytics/domain"
	"github.com/recurhq/recur/internal/audit"
	auditdomain "github.com/recurhq/recur/internal/audit/domain"
	"github.com/recurhq/recur/internal/authorization"
	"github.com/recurhq/recur/internal/cache"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/config"
	"github.com/recurhq/recur/internal/credit"
	creditdomain "github.com/recurhq/recur/internal/credit/domain"
	"github.com/recurhq/recur/internal/gateway"
	gatewaydomain "github.com/recurhq/recur/internal/gateway/domain"
	"github.com/recurhq/recur/internal/invoice"
	invoicedomain "github.com/recurhq/recur/internal/invoice/domain"
	invoicerender "github.com/recurhq/recur/internal/invoice/render"
	"github.com/recurhq/recur/internal/ledger"
	ledgerdomain "github.com/recurhq/recur/internal/ledger/domain"
	"github.com/recurhq/recur/internal/observability"
	obsmiddleware "github.com/recurhq/recur/internal/observability/logger"
	obsmetrics "github.com/recurhq/recur/internal/observability/metrics"
	"github.com/recurhq/recur/internal/payment"
	paymentdomain "github.com/recurhq/recur/internal/payment/domain"
	"github.com/recurhq/recur/internal/paymentmethod"
	paymentmethoddomain "github.com/recurhq/recur/internal/paymentmethod/domain"
	"github.com/recurhq/recur/internal/plan"
	plandomain "github.com/recurhq/recur/internal/plan/domain"
	"github.com/recurhq/recur/internal/subscription"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	"github.com/recurhq/recur/internal/tax"
	"github.com/recurhq/recur/internal/usage"
	usagedomain "github.com/recurhq/recur/internal/usage/domain"
	"github.com/recurhq/recur/internal/usage/liveevents"
	"github.com/recurhq/recur/internal/webhook"
	webhookdomain "github.com/recurhq/recur/internal/webhook/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	cache.Module,
	tax.Module,
	gateway.Module,
	account.Module,
	paymentmethod.Module,
	plan.Module,
	subscription.Module,
	usage.Module,
	invoice.Module,
	payment.Module,
	credit.Module,
	webhook.Module,
	ledger.Module,
	analytics.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine           *gin.Engine
	cfg              config.Config
	db               *gorm.DB
	genID            *snowflake.Node
	clock            clock.Clock
	authzSvc         authorization.Service
	auditSvc         auditdomain.Service
	accountSvc       accountdomain.Service
	paymentMethodSvc paymentmethoddomain.Service
	planSvc          plandomain.Service
	subscriptionSvc  subscriptiondomain.Service
	usageSvc         usagedomain.Service
	liveUsage        *liveevents.Hub
	invoiceSvc       invoicedomain.Service
	invoiceRenderer  invoicerender.Renderer
	paymentSvc       paymentdomain.Service
	creditSvc        creditdomain.Service
	webhookSvc       webhookdomain.Service
	ledgerSvc        ledgerdomain.Service
	analyticsSvc     analyticsdomain.Service
	gateway          gatewaydomain.Gateway
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	DB               *gorm.DB
	GenID            *snowflake.Node
	Clock            clock.Clock
	AuthzSvc         authorization.Service
	AuditSvc         auditdomain.Service
	AccountSvc       accountdomain.Service
	PaymentMethodSvc paymentmethoddomain.Service
	PlanSvc          plandomain.Service
	SubscriptionSvc  subscriptiondomain.Service
	UsageSvc         usagedomain.Service
	LiveUsage        *liveevents.Hub `optional:"true"`
	InvoiceSvc       invoicedomain.Service
	InvoiceRenderer  invoicerender.Renderer
	PaymentSvc       paymentdomain.Service
	CreditSvc        creditdomain.Service
	WebhookSvc       webhookdomain.Service
	LedgerSvc        ledgerdomain.Service
	AnalyticsSvc     analyticsdomain.Service
	Gateway          gatewaydomain.Gateway
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		db:               p.DB,
		genID:            p.GenID,
		clock:            p.Clock,
		authzSvc:         p.AuthzSvc,
		auditSvc:         p.AuditSvc,
		accountSvc:       p.AccountSvc,
		paymentMethodSvc: p.PaymentMethodSvc,
		planSvc:          p.PlanSvc,
		subscriptionSvc:  p.SubscriptionSvc,
		usageSvc:         p.UsageSvc,
		liveUsage:        p.LiveUsage,
		invoiceSvc:       p.InvoiceSvc,
		invoiceRenderer:  p.InvoiceRenderer,
		paymentSvc:       p.PaymentSvc,
		creditSvc:        p.CreditSvc,
		webhookSvc:       p.WebhookSvc,
		ledgerSvc:        p.LedgerSvc,
		analyticsSvc:     p.AnalyticsSvc,
		gateway:          p.Gateway,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	// The gateway authenticates callbacks with its own signature, not an
	// actor header.
	s.engine.POST("/v1/callbacks/:provider", s.HandleGatewayCallback)

	v1 := s.engine.Group("/v1", s.ActorRequired())

	// -------- Accounts --------
	v1.POST("/accounts", s.requireAction(authorization.ObjectAccount, authorization.ActionAccountCreate), s.CreateAccount)
	v1.GET("/accounts", s.requireAction(authorization.ObjectAccount, authorization.ActionAccountView), s.ListAccounts)
	v1.GET("/accounts/:id", s.requireAction(authorization.ObjectAccount, authorization.ActionAccountView), s.GetAccountByID)
	v1.PATCH("/accounts/:id", s.requireAction(authorization.ObjectAccount, authorization.ActionAccountUpdate), s.UpdateAccount)
	v1.POST("/accounts/:id/block", s.requireAction(authorization.ObjectAccount, authorization.ActionAccountBlock), s.BlockAccount)
	v1.POST("/accounts/:id/unblock", s.requireAction(authorization.ObjectAccount, authorization.ActionAccountUnblock), s.UnblockAccount)

	// -------- Payment methods --------
	v1.GET("/accounts/:id/payment-methods", s.requireAction(authorization.ObjectPaymentMethod, authorization.ActionPaymentMethodView), s.ListPaymentMethods)
	v1.POST("/accounts/:id/payment-methods", s.requireAction(authorization.ObjectPaymentMethod, authorization.ActionPaymentMethodAdd), s.AddPaymentMethod)
	v1.POST("/accounts/:id/payment-methods/:method_id/default", s.requireAction(authorization.ObjectPaymentMethod, authorization.ActionPaymentMethodSetDefault), s.SetDefaultPaymentMethod)
	v1.DELETE("/accounts/:id/payment-methods/:method_id", s.requireAction(authorization.ObjectPaymentMethod, authorization.ActionPaymentMethodRemove), s.RemovePaymentMethod)

	// -------- Plans --------
	v1.POST("/plans", s.requireAction(authorization.ObjectPlan, authorization.ActionPlanCreate), s.CreatePlan)
	v1.GET("/plans", s.requireAction(authorization.ObjectPlan, authorization.ActionPlanView), s.ListPlans)
	v1.GET("/plans/:id", s.requireAction(authorization.ObjectPlan, authorization.ActionPlanView), s.GetPlanByID)
	v1.POST("/plans/:id/versions", s.requireAction(authorization.ObjectPlan, authorization.ActionPlanUpdate), s.CreatePlanVersion)
	v1.POST("/plans/:id/archive", s.requireAction(authorization.ObjectPlan, authorization.ActionPlanArchive), s.ArchivePlan)

	// -------- Subscriptions --------
	v1.POST("/subscriptions", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionCreate), s.CreateSubscription)
	v1.GET("/subscriptions", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.ListSubscriptions)
	v1.GET("/subscriptions/:id", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.GetSubscriptionByID)
	v1.GET("/subscriptions/:id/history", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.ListSubscriptionHistory)
	v1.PATCH("/subscriptions/:id", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionUpdate), s.UpdateSubscription)
	v1.POST("/subscriptions/:id/cancel", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionCancel), s.CancelSubscription)
	v1.POST("/subscriptions/:id/pause", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionPause), s.PauseSubscription)
	v1.POST("/subscriptions/:id/resume", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionResume), s.ResumeSubscription)
	v1.POST("/subscriptions/:id/change-plan", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionChangePlan), s.ChangeSubscriptionPlan)

	// -------- Usage --------
	v1.POST("/usage", s.requireAction(authorization.ObjectUsage, authorization.ActionUsageIngest), s.IngestUsage)
	v1.GET("/usage", s.requireAction(authorization.ObjectUsage, authorization.ActionUsageView), s.ListUsage)
	v1.GET("/usage/aggregate", s.requireAction(authorization.ObjectUsage, authorization.ActionUsageView), s.AggregateUsage)
	v1.GET("/usage/live/:metric", s.requireAction(authorization.ObjectUsage, authorization.ActionUsageView), s.StreamLiveUsage)

	// -------- Invoices --------
	v1.GET("/invoices", s.requireAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoices)
	v1.GET("/invoices/:id", s.requireAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoiceByID)
	v1.GET("/invoices/:id/html", s.requireAction(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.RenderInvoice)
	v1.POST("/invoices/:id/void", s.requireAction(authorization.ObjectInvoice, authorization.ActionInvoiceVoid), s.VoidInvoice)
	v1.POST("/invoices/generate", s.requireAction(authorization.ObjectInvoice, authorization.ActionInvoiceGenerate), s.GenerateInvoice)

	// -------- Payments --------
	v1.POST("/payments", s.requireAction(authorization.ObjectPayment, authorization.ActionPaymentRecord), s.AttemptPayment)
	v1.GET("/payments", s.requireAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.ListPayments)
	v1.GET("/payments/:id", s.requireAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetPaymentByID)
	v1.POST("/payments/:id/succeed", s.requireAction(authorization.ObjectPayment, authorization.ActionPaymentMarkSucceeded), s.MarkPaymentSucceeded)
	v1.POST("/payments/:id/fail", s.requireAction(authorization.ObjectPayment, authorization.ActionPaymentMarkFailed), s.MarkPaymentFailed)

	// -------- Credits --------
	v1.POST("/credits", s.requireAction(authorization.ObjectCredit, authorization.ActionCreditGrant), s.GrantCredit)
	v1.GET("/credits", s.requireAction(authorization.ObjectCredit, authorization.ActionCreditView), s.ListCredits)
	v1.GET("/credits/:id", s.requireAction(authorization.ObjectCredit, authorization.ActionCreditView), s.GetCreditByID)
	v1.GET("/accounts/:id/credit-balance", s.requireAction(authorization.ObjectCredit, authorization.ActionCreditView), s.GetCreditBalance)

	// -------- Webhook endpoints --------
	v1.POST("/webhook-endpoints", s.requireAction(authorization.ObjectWebhookEndpoint, authorization.ActionWebhookEndpointCreate), s.CreateWebhookEndpoint)
	v1.GET("/webhook-endpoints", s.requireAction(authorization.ObjectWebhookEndpoint, authorization.ActionWebhookEndpointView), s.ListWebhookEndpoints)
	v1.GET("/webhook-endpoints/:id", s.requireAction(authorization.ObjectWebhookEndpoint, authorization.ActionWebhookEndpointView), s.GetWebhookEndpointByID)
	v1.PATCH("/webhook-endpoints/:id", s.requireAction(authorization.ObjectWebhookEndpoint, authorization.ActionWebhookEndpointUpdate), s.UpdateWebhookEndpoint)
	v1.DELETE("/webhook-endpoints/:id", s.requireAction(authorization.ObjectWebhookEndpoint, authorization.ActionWebhookEndpointDelete), s.DeleteWebhookEndpoint)
	v1.GET("/webhook-events", s.requireAction(authorization.ObjectWebhookEndpoint, authorization.ActionWebhookEndpointView), s.ListWebhookEvents)

	// -------- Ledger --------
	v1.GET("/ledger/entries", s.requireAction(authorization.ObjectLedger, authorization.ActionLedgerView), s.ListLedgerEntries)
	v1.GET("/ledger/balances", s.requireAction(authorization.ObjectLedger, authorization.ActionLedgerView), s.ListLedgerBalances)

	// -------- Analytics --------
	v1.GET("/analytics/snapshots", s.requireAction(authorization.ObjectAnalytics, authorization.ActionAnalyticsView), s.ListAnalyticsSnapshots)

	// -------- Audit logs --------
	v1.GET("/audit-logs", s.requireAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
