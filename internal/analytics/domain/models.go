package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Metric names. Money metrics carry a lowercase currency suffix
// (mrr_usd) so the (metric_name, period) key stays unique when accounts
// bill in more than one currency.
const (
	MetricMRR       = "mrr"
	MetricChurnRate = "churn_rate"
	MetricLTV       = "ltv"
)

// MoneyMetric builds the per-currency name for a money metric.
func MoneyMetric(name, currency string) string {
	return fmt.Sprintf("%s_%s", name, strings.ToLower(strings.TrimSpace(currency)))
}

// PeriodLayout is the snapshot period key: a UTC calendar date. Hourly
// rollups rewrite the current day's row until the day closes.
const PeriodLayout = "2006-01-02"

func FormatPeriod(at time.Time) string {
	return at.UTC().Format(PeriodLayout)
}

// Snapshot is one computed metric value. Money metrics store minor
// units; rates store basis points. Later writes for the same
// (metric_name, period) replace value and metadata.
type Snapshot struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	MetricName string            `gorm:"column:metric_name;uniqueIndex:ux_analytics_metric_period" json:"metric_name"`
	Value      int64             `gorm:"column:value" json:"value"`
	Period     string            `gorm:"column:period;uniqueIndex:ux_analytics_metric_period" json:"period"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

func (Snapshot) TableName() string { return "analytics_snapshots" }
