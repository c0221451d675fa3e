package scheduler

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Run),
)

// ProvideConfig builds the scheduler config from the environment. Unset
// values fall back to the defaults.
func ProvideConfig() Config {
	cfg := Config{
		RunInterval: envDuration("SCHEDULER_RUN_INTERVAL"),
		BatchSize:   envInt("SCHEDULER_BATCH_SIZE"),

		BillingCycleInterval:    envDuration("SCHEDULER_BILLING_CYCLE_INTERVAL"),
		TrialExpiryInterval:     envDuration("SCHEDULER_TRIAL_EXPIRY_INTERVAL"),
		PlanChangeInterval:      envDuration("SCHEDULER_PLAN_CHANGE_INTERVAL"),
		PaymentRetryInterval:    envDuration("SCHEDULER_PAYMENT_RETRY_INTERVAL"),
		DunningSweepInterval:    envDuration("SCHEDULER_DUNNING_SWEEP_INTERVAL"),
		LateUsageInterval:       envDuration("SCHEDULER_LATE_USAGE_INTERVAL"),
		PauseAutoInterval:       envDuration("SCHEDULER_PAUSE_AUTO_INTERVAL"),
		WebhookDispatchInterval: envDuration("SCHEDULER_WEBHOOK_DISPATCH_INTERVAL"),
		MRRRollupInterval:       envDuration("SCHEDULER_MRR_ROLLUP_INTERVAL"),
		RetentionRollupInterval: envDuration("SCHEDULER_RETENTION_ROLLUP_INTERVAL"),
	}
	if jobs := strings.TrimSpace(os.Getenv("SCHEDULER_ENABLED_JOBS")); jobs != "" {
		for _, job := range strings.Split(jobs, ",") {
			if job = strings.TrimSpace(job); job != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, job)
			}
		}
	}
	return cfg
}

// Run starts the scheduler loop on application start and stops it on
// shutdown.
func Run(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}

func envDuration(key string) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func envInt(key string) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}
