package migration

import (
	"errors"

	accountdomain "github.com/recurhq/recur/internal/account/domain"
	analyticsdomain "github.com/recurhq/recur/internal/analytics/domain"
	auditdomain "github.com/recurhq/recur/internal/audit/domain"
	creditdomain "github.com/recurhq/recur/internal/credit/domain"
	invoicedomain "github.com/recurhq/recur/internal/invoice/domain"
	ledgerdomain "github.com/recurhq/recur/internal/ledger/domain"
	paymentdomain "github.com/recurhq/recur/internal/payment/domain"
	paymentmethoddomain "github.com/recurhq/recur/internal/paymentmethod/domain"
	plandomain "github.com/recurhq/recur/internal/plan/domain"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	taxdomain "github.com/recurhq/recur/internal/tax/domain"
	usagedomain "github.com/recurhq/recur/internal/usage/domain"
	webhookdomain "github.com/recurhq/recur/internal/webhook/domain"
	"gorm.io/gorm"
)

// Run creates or updates the billing schema on startup so the engine works
// out of the box for local and self-hosted deployments. The casbin adapter
// manages its own policy table.
func Run(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	return db.AutoMigrate(
		&accountdomain.Account{},
		&plandomain.Plan{},
		&plandomain.PlanTier{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionHistory{},
		&paymentmethoddomain.PaymentMethod{},
		&usagedomain.UsageRecord{},
		&invoicedomain.Invoice{},
		&invoicedomain.LineItem{},
		&invoicedomain.Counter{},
		&paymentdomain.Payment{},
		&creditdomain.Credit{},
		&taxdomain.TaxRate{},
		&webhookdomain.Endpoint{},
		&webhookdomain.Event{},
		&ledgerdomain.Account{},
		&ledgerdomain.Entry{},
		&ledgerdomain.Line{},
		&analyticsdomain.Snapshot{},
		&auditdomain.AuditLog{},
	)
}
