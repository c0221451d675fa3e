package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Interval string

var (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

func (i Interval) Valid() bool {
	return i == IntervalMonth || i == IntervalYear
}

// PeriodDuration returns the billing period length for the interval.
// Months are 30 days and years 365; calendar-aware advancement is a
// deliberate non-feature for now.
func (i Interval) PeriodDuration() time.Duration {
	if i == IntervalYear {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

type UsageType string

var (
	UsageTypeGraduated UsageType = "graduated"
	UsageTypeVolume    UsageType = "volume"
	// UsageTypeTiered is accepted on input as an alias for graduated.
	UsageTypeTiered UsageType = "tiered"
)

type Plan struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Code      string       `gorm:"column:code;uniqueIndex:ux_plans_code_version" json:"code"`
	Name      string       `gorm:"column:name" json:"name"`
	Interval  Interval     `gorm:"column:billing_interval" json:"interval"`
	Amount    int64        `gorm:"column:amount" json:"amount"`
	Currency  string       `gorm:"column:currency;size:3" json:"currency"`
	TrialDays int          `gorm:"column:trial_days" json:"trial_days"`
	UsageType *UsageType   `gorm:"column:usage_type" json:"usage_type,omitempty"`
	Active    bool         `gorm:"column:active" json:"active"`
	Version   int32        `gorm:"column:version;uniqueIndex:ux_plans_code_version" json:"version"`
	CreatedAt time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time    `gorm:"column:updated_at" json:"updated_at"`

	// Tiers is loaded explicitly by the repository; plans with a usage
	// type always carry at least one tier.
	Tiers []PlanTier `gorm:"-" json:"tiers,omitempty"`
}

func (Plan) TableName() string { return "plans" }

func (p Plan) Metered() bool { return p.UsageType != nil }

// PlanTier is one band of a tiered price. UpTo is the inclusive upper
// bound in units; nil means unbounded and is only legal on the last tier.
type PlanTier struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	PlanID     snowflake.ID `gorm:"column:plan_id;index" json:"plan_id"`
	Position   int          `gorm:"column:position" json:"position"`
	UpTo       *int64       `gorm:"column:up_to" json:"up_to,omitempty"`
	UnitAmount int64        `gorm:"column:unit_amount" json:"unit_amount"`
	CreatedAt  time.Time    `gorm:"column:created_at" json:"created_at"`
}

func (PlanTier) TableName() string { return "plan_tiers" }
