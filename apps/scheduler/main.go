package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/account"
	"github.com/recurhq/recur/internal/analytics"
	"github.com/recurhq/recur/internal/audit"
	"github.com/recurhq/recur/internal/authorization"
	"github.com/recurhq/recur/internal/cache"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/config"
	"github.com/recurhq/recur/internal/credit"
	"github.com/recurhq/recur/internal/dunning"
	"github.com/recurhq/recur/internal/gateway"
	"github.com/recurhq/recur/internal/invoice"
	"github.com/recurhq/recur/internal/ledger"
	"github.com/recurhq/recur/internal/migration"
	"github.com/recurhq/recur/internal/notification"
	"github.com/recurhq/recur/internal/observability"
	"github.com/recurhq/recur/internal/payment"
	"github.com/recurhq/recur/internal/paymentmethod"
	"github.com/recurhq/recur/internal/plan"
	"github.com/recurhq/recur/internal/scheduler"
	"github.com/recurhq/recur/internal/subscription"
	"github.com/recurhq/recur/internal/tax"
	"github.com/recurhq/recur/internal/usage"
	"github.com/recurhq/recur/internal/webhook"
	"github.com/recurhq/recur/pkg/db"
	"go.uber.org/fx"
)

// The scheduler runs the billing engine loop without an HTTP surface. It
// shares the API's service graph so a job and its endpoint counterpart carry
// identical semantics.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		authorization.Module,
		audit.Module,
		cache.Module,
		tax.Module,
		gateway.Module,
		notification.Module,
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
		dunning.Module,

		scheduler.Module,
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(snowflakeNodeNumber())
	if err != nil {
		panic(err)
	}
	return node
}

func snowflakeNodeNumber() int64 {
	raw := os.Getenv("SNOWFLAKE_NODE")
	if raw == "" {
		return 2
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 2
	}
	return n
}
