package tax

import (
	"github.com/recurhq/recur/internal/tax/repository"
	"github.com/recurhq/recur/internal/tax/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tax.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.NewOracle),
	fx.Provide(service.NewResolver),
)
