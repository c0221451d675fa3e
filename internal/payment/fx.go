package payment

import (
	"github.com/recurhq/recur/internal/payment/repository"
	"github.com/recurhq/recur/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
