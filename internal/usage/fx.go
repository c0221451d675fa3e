package usage

import (
	"github.com/recurhq/recur/internal/usage/liveevents"
	"github.com/recurhq/recur/internal/usage/repository"
	"github.com/recurhq/recur/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(liveevents.NewHub),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
