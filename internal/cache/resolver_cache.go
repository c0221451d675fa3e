package cache

import (
	"context"
	"strings"
	"time"

	accountdomain "github.com/recurhq/recur/internal/account/domain"
	"github.com/recurhq/recur/internal/config"
	plandomain "github.com/recurhq/recur/internal/plan/domain"
	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
	redis "github.com/redis/go-redis/v9"
)

// Subscriptions churn state quickly (pause, cancel, past_due), so their
// entries stay short-lived. Plans are immutable rows and can sit longer.
const (
	defaultSubscriptionTTL = 45 * time.Second
	defaultAccountTTL      = 45 * time.Second
	defaultPlanTTL         = 10 * time.Minute
)

// ResolverCache stores hot-path lookups for usage ingest and the API edge.
type ResolverCache interface {
	GetSubscription(ctx context.Context, id string) (subscriptiondomain.Subscription, bool)
	SetSubscription(ctx context.Context, subscription subscriptiondomain.Subscription)
	DropSubscription(ctx context.Context, id string)
	GetAccount(ctx context.Context, id string) (accountdomain.Account, bool)
	SetAccount(ctx context.Context, account accountdomain.Account)
	DropAccount(ctx context.Context, id string)
	GetPlan(ctx context.Context, id string) (plandomain.Plan, bool)
	SetPlan(ctx context.Context, plan plandomain.Plan)
}

type resolverCache struct {
	subscriptions Cache[subscriptiondomain.Subscription]
	accounts      Cache[accountdomain.Account]
	plans         Cache[plandomain.Plan]
	subTTL        time.Duration
	accountTTL    time.Duration
	planTTL       time.Duration
}

// NewResolverCache picks the redis backend when an address is configured
// and process memory otherwise.
func NewResolverCache(cfg config.Config) ResolverCache {
	c := &resolverCache{
		subTTL:     defaultSubscriptionTTL,
		accountTTL: defaultAccountTTL,
		planTTL:    defaultPlanTTL,
	}
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: strings.TrimSpace(cfg.RedisPassword),
			DB:       cfg.RedisDB,
		})
		c.subscriptions = NewRedisCache[subscriptiondomain.Subscription](client, "resolver:sub:")
		c.accounts = NewRedisCache[accountdomain.Account](client, "resolver:account:")
		c.plans = NewRedisCache[plandomain.Plan](client, "resolver:plan:")
		return c
	}
	c.subscriptions = NewTTLCache[subscriptiondomain.Subscription]()
	c.accounts = NewTTLCache[accountdomain.Account]()
	c.plans = NewTTLCache[plandomain.Plan]()
	return c
}

func (c *resolverCache) GetSubscription(ctx context.Context, id string) (subscriptiondomain.Subscription, bool) {
	return c.subscriptions.Get(ctx, cacheKey(id))
}

func (c *resolverCache) SetSubscription(ctx context.Context, subscription subscriptiondomain.Subscription) {
	if subscription.ID == 0 {
		return
	}
	c.subscriptions.Set(ctx, cacheKey(subscription.ID.String()), subscription, c.subTTL)
}

func (c *resolverCache) DropSubscription(ctx context.Context, id string) {
	c.subscriptions.Delete(ctx, cacheKey(id))
}

func (c *resolverCache) GetAccount(ctx context.Context, id string) (accountdomain.Account, bool) {
	return c.accounts.Get(ctx, cacheKey(id))
}

func (c *resolverCache) SetAccount(ctx context.Context, account accountdomain.Account) {
	if account.ID == 0 {
		return
	}
	c.accounts.Set(ctx, cacheKey(account.ID.String()), account, c.accountTTL)
}

func (c *resolverCache) DropAccount(ctx context.Context, id string) {
	c.accounts.Delete(ctx, cacheKey(id))
}

func (c *resolverCache) GetPlan(ctx context.Context, id string) (plandomain.Plan, bool) {
	return c.plans.Get(ctx, cacheKey(id))
}

func (c *resolverCache) SetPlan(ctx context.Context, plan plandomain.Plan) {
	if plan.ID == 0 {
		return
	}
	c.plans.Set(ctx, cacheKey(plan.ID.String()), plan, c.planTTL)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
