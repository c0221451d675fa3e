package service

import (
	"context"

	"github.com/recurhq/recur/internal/config"
	"github.com/recurhq/recur/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type OracleParams struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	Repo   domain.Repository
}

// NewOracle picks the hosted tax service when configured and the built-in
// rate table otherwise.
func NewOracle(p OracleParams) domain.Oracle {
	if p.Config.TaxOracleURL != "" {
		return NewHTTPOracle(p.Config.TaxOracleURL, p.Config.TaxOracleAPIKey, p.Log)
	}
	return &staticOracle{db: p.DB, repo: p.Repo}
}

// staticOracle serves rates from the tax_rates table.
type staticOracle struct {
	db   *gorm.DB
	repo domain.Repository
}

func (o *staticOracle) Calculate(ctx context.Context, req domain.CalculateRequest) (*domain.Assessment, error) {
	rate, err := o.repo.FindActiveByLocation(ctx, o.db, req.Location)
	if err != nil {
		return nil, err
	}
	if rate == nil {
		return nil, domain.ErrNoRateConfigured
	}

	amount := domain.TaxAmount(req.Amount, rate.Rate)
	return &domain.Assessment{
		Amount: amount,
		Rate:   rate.Rate,
		Breakdown: []domain.Component{
			{Jurisdiction: rate.Name, Rate: rate.Rate, Amount: amount},
		},
	}, nil
}
