package gateway

import (
	"strings"

	"github.com/recurhq/recur/internal/config"
	"github.com/recurhq/recur/internal/gateway/domain"
	"github.com/recurhq/recur/internal/gateway/rest"
	"github.com/recurhq/recur/internal/gateway/sandbox"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(func() *Registry {
		return NewRegistry(
			rest.NewFactory(),
			sandbox.NewFactory(),
		)
	}),
	fx.Provide(ProvideGateway),
)

// ProvideGateway selects the charge adapter from configuration. Without an
// explicit provider it charges through the REST processor when a base URL
// is configured, and falls back to the in-memory sandbox otherwise.
func ProvideGateway(cfg config.Config, registry *Registry, log *zap.Logger) (domain.Gateway, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.GatewayProvider))
	if provider == "" {
		provider = "sandbox"
		if cfg.GatewayBaseURL != "" {
			provider = "rest"
		}
	}

	gw, err := registry.New(provider, domain.Config{
		BaseURL:       cfg.GatewayBaseURL,
		APIKey:        cfg.GatewayAPIKey,
		WebhookSecret: cfg.GatewayWebhookSecret,
	})
	if err != nil {
		return nil, err
	}

	if provider == "sandbox" {
		log.Warn("charges are processed by the in-memory sandbox gateway")
	}
	return gw, nil
}
