package plan

import (
	"github.com/recurhq/recur/internal/plan/repository"
	"github.com/recurhq/recur/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
