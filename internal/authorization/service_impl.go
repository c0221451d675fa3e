package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/recurhq/recur/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	roleSystem   = "role:system"
	roleAdmin    = "role:admin"
	roleReadonly = "role:readonly"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorType, actorID, err := resolveActor(actor)
	if err != nil {
		s.auditDenied(ctx, actorType, actorID, object, action)
		return err
	}

	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorType, actorID, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditGranted(ctx, actorType, actorID, object, action)
	}
	return nil
}

func resolveActor(actor string) (string, string, string, *string, error) {
	if actor == "system" {
		return actor, roleSystem, "system", nil, nil
	}
	if strings.HasPrefix(actor, "service:") {
		name := strings.TrimSpace(strings.TrimPrefix(actor, "service:"))
		if name == "" {
			return "", "", "", nil, ErrInvalidActor
		}
		return actor, roleSystem, "service", &name, nil
	}
	if strings.HasPrefix(actor, "admin:") {
		adminIDRaw := strings.TrimPrefix(actor, "admin:")
		adminID, err := snowflake.ParseString(adminIDRaw)
		if err != nil || adminID == 0 {
			return "", "", "", nil, ErrInvalidActor
		}
		adminIDStr := adminID.String()
		return actor, roleAdmin, "admin", &adminIDStr, nil
	}
	if strings.HasPrefix(actor, "readonly:") {
		readerIDRaw := strings.TrimPrefix(actor, "readonly:")
		readerID, err := snowflake.ParseString(readerIDRaw)
		if err != nil || readerID == 0 {
			return "", "", "", nil, ErrInvalidActor
		}
		readerIDStr := readerID.String()
		return actor, roleReadonly, "readonly", &readerIDStr, nil
	}
	return "", "", "", nil, ErrInvalidActor
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType string, actorID *string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, actorType, actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"actor":  actorType,
	})
}

func (s *ServiceImpl) auditGranted(ctx context.Context, actorType string, actorID *string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, actorType, actorID, "authorization.granted", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"actor":  actorType,
	})
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionInvoiceVoid, ActionAccountBlock, ActionAccountUnblock, ActionCreditGrant:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	views := [][2]string{
		{ObjectAccount, ActionAccountView},
		{ObjectPaymentMethod, ActionPaymentMethodView},
		{ObjectPlan, ActionPlanView},
		{ObjectSubscription, ActionSubscriptionView},
		{ObjectInvoice, ActionInvoiceView},
		{ObjectPayment, ActionPaymentView},
		{ObjectCredit, ActionCreditView},
		{ObjectUsage, ActionUsageView},
		{ObjectWebhookEndpoint, ActionWebhookEndpointView},
		{ObjectLedger, ActionLedgerView},
		{ObjectAnalytics, ActionAnalyticsView},
		{ObjectAuditLog, ActionAuditLogView},
	}

	adminOps := [][2]string{
		{ObjectAccount, ActionAccountCreate},
		{ObjectAccount, ActionAccountUpdate},
		{ObjectAccount, ActionAccountBlock},
		{ObjectAccount, ActionAccountUnblock},
		{ObjectPaymentMethod, ActionPaymentMethodAdd},
		{ObjectPaymentMethod, ActionPaymentMethodSetDefault},
		{ObjectPaymentMethod, ActionPaymentMethodRemove},
		{ObjectPlan, ActionPlanCreate},
		{ObjectPlan, ActionPlanUpdate},
		{ObjectPlan, ActionPlanArchive},
		{ObjectSubscription, ActionSubscriptionCreate},
		{ObjectSubscription, ActionSubscriptionUpdate},
		{ObjectSubscription, ActionSubscriptionCancel},
		{ObjectSubscription, ActionSubscriptionPause},
		{ObjectSubscription, ActionSubscriptionResume},
		{ObjectSubscription, ActionSubscriptionChangePlan},
		{ObjectInvoice, ActionInvoiceVoid},
		{ObjectCredit, ActionCreditGrant},
		{ObjectUsage, ActionUsageIngest},
		{ObjectWebhookEndpoint, ActionWebhookEndpointCreate},
		{ObjectWebhookEndpoint, ActionWebhookEndpointUpdate},
		{ObjectWebhookEndpoint, ActionWebhookEndpointDelete},
	}

	systemOps := [][2]string{
		{ObjectSubscription, ActionSubscriptionRenew},
		{ObjectInvoice, ActionInvoiceGenerate},
		{ObjectPayment, ActionPaymentRecord},
		{ObjectPayment, ActionPaymentMarkSucceeded},
		{ObjectPayment, ActionPaymentMarkFailed},
		{ObjectPayment, ActionPaymentRetry},
		{ObjectCredit, ActionCreditApply},
		{ObjectWebhookEndpoint, ActionWebhookDispatch},
		{ObjectAnalytics, ActionAnalyticsRollup},
	}

	policies := make([][]string, 0, len(views)*3+len(adminOps)*2+len(systemOps))
	for _, rule := range views {
		policies = append(policies, []string{roleReadonly, rule[0], rule[1]})
		policies = append(policies, []string{roleAdmin, rule[0], rule[1]})
		policies = append(policies, []string{roleSystem, rule[0], rule[1]})
	}
	for _, rule := range adminOps {
		policies = append(policies, []string{roleAdmin, rule[0], rule[1]})
		policies = append(policies, []string{roleSystem, rule[0], rule[1]})
	}
	for _, rule := range systemOps {
		policies = append(policies, []string{roleSystem, rule[0], rule[1]})
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
