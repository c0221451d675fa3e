package config

import (
	"errors"
	"log"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig carries the billing policy knobs. Defaults are the engine
// contract; operators may tune them per deployment via billing.yml.
type BillingConfig struct {
	// Payment retry offsets in days measured from the first failed attempt.
	PaymentRetryOffsetDays []int `mapstructure:"paymentRetryOffsetDays"`

	// Webhook redelivery backoff per attempt, in minutes.
	WebhookBackoffMinutes []int `mapstructure:"webhookBackoffMinutes"`
	WebhookMaxAttempts    int   `mapstructure:"webhookMaxAttempts"`

	// Dunning thresholds in days overdue.
	DunningReminderDays int `mapstructure:"dunningReminderDays"`
	DunningWarningDays  int `mapstructure:"dunningWarningDays"`
	DunningBlockedDays  int `mapstructure:"dunningBlockedDays"`

	// Flat tax rate applied when the tax oracle is unreachable.
	TaxFallbackRate float64 `mapstructure:"taxFallbackRate"`

	LateUsageGraceDays  int `mapstructure:"lateUsageGraceDays"`
	PauseAutoCancelDays int `mapstructure:"pauseAutoCancelDays"`

	InvoiceDueDays   int `mapstructure:"invoiceDueDays"`
	ProrationDueDays int `mapstructure:"prorationDueDays"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		PaymentRetryOffsetDays: []int{3, 5, 7, 10},
		WebhookBackoffMinutes:  []int{3, 6, 12, 24, 48},
		WebhookMaxAttempts:     5,
		DunningReminderDays:    3,
		DunningWarningDays:     7,
		DunningBlockedDays:     14,
		TaxFallbackRate:        0.10,
		LateUsageGraceDays:     7,
		PauseAutoCancelDays:    90,
		InvoiceDueDays:         7,
		ProrationDueDays:       7,
	}
}

// MaxPaymentRetries derives the retry budget from the offset table.
func (c BillingConfig) MaxPaymentRetries() int {
	return len(c.PaymentRetryOffsetDays)
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder wraps a fixed config, used by tests.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/recur/config") // Volume-mounted config
	v.AddConfigPath("/etc/recur")            // System config
	v.AddConfigPath(".")                     // Current directory (dev mode)

	v.SetEnvPrefix("RECUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.paymentRetryOffsetDays", defaults.PaymentRetryOffsetDays)
	v.SetDefault("billing.webhookBackoffMinutes", defaults.WebhookBackoffMinutes)
	v.SetDefault("billing.webhookMaxAttempts", defaults.WebhookMaxAttempts)
	v.SetDefault("billing.dunningReminderDays", defaults.DunningReminderDays)
	v.SetDefault("billing.dunningWarningDays", defaults.DunningWarningDays)
	v.SetDefault("billing.dunningBlockedDays", defaults.DunningBlockedDays)
	v.SetDefault("billing.taxFallbackRate", defaults.TaxFallbackRate)
	v.SetDefault("billing.lateUsageGraceDays", defaults.LateUsageGraceDays)
	v.SetDefault("billing.pauseAutoCancelDays", defaults.PauseAutoCancelDays)
	v.SetDefault("billing.invoiceDueDays", defaults.InvoiceDueDays)
	v.SetDefault("billing.prorationDueDays", defaults.ProrationDueDays)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if len(cfg.PaymentRetryOffsetDays) == 0 {
		return errors.New("billing.paymentRetryOffsetDays cannot be empty")
	}
	if !sort.IntsAreSorted(cfg.PaymentRetryOffsetDays) {
		return errors.New("billing.paymentRetryOffsetDays must be ascending")
	}
	if len(cfg.WebhookBackoffMinutes) == 0 {
		return errors.New("billing.webhookBackoffMinutes cannot be empty")
	}
	if cfg.WebhookMaxAttempts <= 0 {
		return errors.New("billing.webhookMaxAttempts must be positive")
	}
	if cfg.DunningReminderDays >= cfg.DunningWarningDays || cfg.DunningWarningDays >= cfg.DunningBlockedDays {
		return errors.New("billing dunning thresholds must be strictly ascending")
	}
	if cfg.TaxFallbackRate < 0 || cfg.TaxFallbackRate >= 1 {
		return errors.New("billing.taxFallbackRate must be within [0, 1)")
	}
	if cfg.LateUsageGraceDays <= 0 {
		return errors.New("billing.lateUsageGraceDays must be positive")
	}
	if cfg.PauseAutoCancelDays <= 0 {
		return errors.New("billing.pauseAutoCancelDays must be positive")
	}
	return nil
}
