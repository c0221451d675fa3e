package audit

import (
	"github.com/recurhq/recur/internal/audit/repository"
	"github.com/recurhq/recur/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
