package paymentmethod

import (
	"github.com/recurhq/recur/internal/paymentmethod/repository"
	"github.com/recurhq/recur/internal/paymentmethod/service"
	"go.uber.org/fx"
)

var Module = fx.Module("paymentmethod.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
