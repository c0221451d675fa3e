package service

import (
	"context"

	accountdomain "github.com/recurhq/recur/internal/account/domain"
	"github.com/recurhq/recur/internal/config"
	"github.com/recurhq/recur/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ResolverParams struct {
	fx.In

	Log     *zap.Logger
	Oracle  domain.Oracle
	Billing *config.BillingConfigHolder
}

type resolver struct {
	log     *zap.Logger
	oracle  domain.Oracle
	billing *config.BillingConfigHolder
}

func NewResolver(p ResolverParams) domain.Resolver {
	return &resolver{
		log:     p.Log.Named("tax.resolver"),
		oracle:  p.Oracle,
		billing: p.Billing,
	}
}

func (r *resolver) AssessInvoice(ctx context.Context, account *accountdomain.Account, subtotal int64, currency string, lines []domain.LineHint) domain.Assessment {
	if subtotal <= 0 {
		return domain.Assessment{}
	}
	if account.TaxExempt {
		reason := domain.ReasonTaxExempt
		return domain.Assessment{Reason: &reason}
	}
	if account.ReverseCharge() {
		reason := domain.ReasonReverseCharge
		return domain.Assessment{Reason: &reason}
	}

	assessment, err := r.oracle.Calculate(ctx, domain.CalculateRequest{
		Location: account.Timezone,
		Amount:   subtotal,
		Currency: currency,
		Lines:    lines,
	})
	if err == nil && assessment != nil {
		return *assessment
	}

	rate := r.billing.Get().TaxFallbackRate
	r.log.Warn("tax oracle unavailable, applying flat fallback",
		zap.String("location", account.Timezone),
		zap.Float64("rate", rate),
		zap.Error(err),
	)
	return domain.Assessment{
		Amount: domain.TaxAmount(subtotal, rate),
		Rate:   rate,
	}
}
