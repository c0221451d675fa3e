package scheduler

import (
	"time"
)

// Config controls the run loop cadence, per-job periods, and batch sizes.
// Zero values fall back to the defaults, which are the engine contract.
type Config struct {
	// RunInterval is the loop tick; jobs fire when their own period has
	// elapsed since their last run.
	RunInterval time.Duration

	BatchSize int

	// EnabledJobs restricts the loop to a subset of jobs. Empty means all
	// jobs run (monolith mode); worker fleets split jobs across processes.
	EnabledJobs []string

	BillingCycleInterval    time.Duration
	TrialExpiryInterval     time.Duration
	PlanChangeInterval      time.Duration
	PaymentRetryInterval    time.Duration
	DunningSweepInterval    time.Duration
	LateUsageInterval       time.Duration
	PauseAutoInterval       time.Duration
	WebhookDispatchInterval time.Duration
	MRRRollupInterval       time.Duration
	RetentionRollupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   50,

		BillingCycleInterval:    time.Hour,
		TrialExpiryInterval:     time.Hour,
		PlanChangeInterval:      time.Hour,
		PaymentRetryInterval:    15 * time.Minute,
		DunningSweepInterval:    24 * time.Hour,
		LateUsageInterval:       24 * time.Hour,
		PauseAutoInterval:       24 * time.Hour,
		WebhookDispatchInterval: time.Minute,
		MRRRollupInterval:       time.Hour,
		RetentionRollupInterval: 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.BillingCycleInterval <= 0 {
		c.BillingCycleInterval = defaults.BillingCycleInterval
	}
	if c.TrialExpiryInterval <= 0 {
		c.TrialExpiryInterval = defaults.TrialExpiryInterval
	}
	if c.PlanChangeInterval <= 0 {
		c.PlanChangeInterval = defaults.PlanChangeInterval
	}
	if c.PaymentRetryInterval <= 0 {
		c.PaymentRetryInterval = defaults.PaymentRetryInterval
	}
	if c.DunningSweepInterval <= 0 {
		c.DunningSweepInterval = defaults.DunningSweepInterval
	}
	if c.LateUsageInterval <= 0 {
		c.LateUsageInterval = defaults.LateUsageInterval
	}
	if c.PauseAutoInterval <= 0 {
		c.PauseAutoInterval = defaults.PauseAutoInterval
	}
	if c.WebhookDispatchInterval <= 0 {
		c.WebhookDispatchInterval = defaults.WebhookDispatchInterval
	}
	if c.MRRRollupInterval <= 0 {
		c.MRRRollupInterval = defaults.MRRRollupInterval
	}
	if c.RetentionRollupInterval <= 0 {
		c.RetentionRollupInterval = defaults.RetentionRollupInterval
	}
	return c
}
