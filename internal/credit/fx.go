package credit

import (
	"github.com/recurhq/recur/internal/credit/repository"
	"github.com/recurhq/recur/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
