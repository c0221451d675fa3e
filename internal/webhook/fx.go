package webhook

import (
	"github.com/recurhq/recur/internal/webhook/repository"
	"github.com/recurhq/recur/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.NewOutbox),
	fx.Provide(service.NewDispatcher),
)
