package ledger

import (
	"context"

	"github.com/recurhq/recur/internal/ledger/domain"
	"github.com/recurhq/recur/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(service.New),
	fx.Invoke(seedChartOfAccounts),
)

func seedChartOfAccounts(lc fx.Lifecycle, svc domain.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.EnsureAccounts(ctx)
		},
	})
}
