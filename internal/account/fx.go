package account

import (
	"github.com/recurhq/recur/internal/account/repository"
	"github.com/recurhq/recur/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
