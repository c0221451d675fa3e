package subscription

import (
	"github.com/recurhq/recur/internal/subscription/repository"
	"github.com/recurhq/recur/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
