package authorization

import (
	"context"
	"errors"
)

const (
	ObjectAccount         = "account"
	ObjectPaymentMethod   = "payment_method"
	ObjectPlan            = "plan"
	ObjectSubscription    = "subscription"
	ObjectInvoice         = "invoice"
	ObjectPayment         = "payment"
	ObjectCredit          = "credit"
	ObjectUsage           = "usage"
	ObjectWebhookEndpoint = "webhook_endpoint"
	ObjectLedger          = "ledger"
	ObjectAnalytics       = "analytics"
	ObjectAuditLog        = "audit_log"
)

const (
	ActionAccountView    = "account.view"
	ActionAccountCreate  = "account.create"
	ActionAccountUpdate  = "account.update"
	ActionAccountBlock   = "account.block"
	ActionAccountUnblock = "account.unblock"

	ActionPaymentMethodView       = "payment_method.view"
	ActionPaymentMethodAdd        = "payment_method.add"
	ActionPaymentMethodSetDefault = "payment_method.set_default"
	ActionPaymentMethodRemove     = "payment_method.remove"

	ActionPlanView    = "plan.view"
	ActionPlanCreate  = "plan.create"
	ActionPlanUpdate  = "plan.update"
	ActionPlanArchive = "plan.archive"

	ActionSubscriptionView       = "subscription.view"
	ActionSubscriptionCreate     = "subscription.create"
	ActionSubscriptionUpdate     = "subscription.update"
	ActionSubscriptionCancel     = "subscription.cancel"
	ActionSubscriptionPause      = "subscription.pause"
	ActionSubscriptionResume     = "subscription.resume"
	ActionSubscriptionChangePlan = "subscription.change_plan"
	ActionSubscriptionRenew      = "subscription.renew"

	ActionInvoiceView     = "invoice.view"
	ActionInvoiceGenerate = "invoice.generate"
	ActionInvoiceVoid     = "invoice.void"

	ActionPaymentView          = "payment.view"
	ActionPaymentRecord        = "payment.record"
	ActionPaymentMarkSucceeded = "payment.mark_succeeded"
	ActionPaymentMarkFailed    = "payment.mark_failed"
	ActionPaymentRetry         = "payment.retry"

	ActionCreditView  = "credit.view"
	ActionCreditGrant = "credit.grant"
	ActionCreditApply = "credit.apply"

	ActionUsageView   = "usage.view"
	ActionUsageIngest = "usage.ingest"

	ActionWebhookEndpointView   = "webhook_endpoint.view"
	ActionWebhookEndpointCreate = "webhook_endpoint.create"
	ActionWebhookEndpointUpdate = "webhook_endpoint.update"
	ActionWebhookEndpointDelete = "webhook_endpoint.delete"
	ActionWebhookDispatch       = "webhook_endpoint.dispatch"

	ActionLedgerView = "ledger.view"

	ActionAnalyticsView   = "analytics.view"
	ActionAnalyticsRollup = "analytics.rollup"

	ActionAuditLogView = "audit_log.view"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service answers whether an actor may perform an action on an object.
type Service interface {
	Authorize(ctx context.Context, actor string, object string, action string) error
}
