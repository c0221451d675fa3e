package invoice

import (
	"github.com/recurhq/recur/internal/invoice/domain"
	"github.com/recurhq/recur/internal/invoice/render"
	"github.com/recurhq/recur/internal/invoice/repository"
	"github.com/recurhq/recur/internal/invoice/service"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(render.NewRenderer),
	fx.Provide(service.New),
	// The subscription engine calls back into the assembler for the
	// mid-cycle proration invoice on an immediate plan change.
	fx.Provide(func(svc domain.Service) subscriptiondomain.ProrationInvoicer { return svc }),
)
