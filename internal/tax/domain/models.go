package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Assessment reasons carried onto the invoice when no tax is charged.
const (
	ReasonTaxExempt     = "tax_exempt"
	ReasonReverseCharge = "reverse_charge"
)

// TaxRate is one row of the built-in rate table the static oracle serves.
// Location is the account's timezone string, the only locality signal
// accounts carry.
type TaxRate struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Location  string       `gorm:"column:location;uniqueIndex" json:"location"`
	Name      string       `gorm:"column:name" json:"name"`
	Rate      float64      `gorm:"column:rate;type:numeric(6,4)" json:"rate"`
	Active    bool         `gorm:"column:active" json:"active"`
	CreatedAt time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (TaxRate) TableName() string { return "tax_rates" }

func (t *TaxRate) Validate() error {
	if t.Location == "" {
		return ErrInvalidLocation
	}
	if t.Name == "" {
		return ErrInvalidName
	}
	if t.Rate < 0 || t.Rate >= 1 {
		return ErrInvalidRate
	}
	return nil
}

// Component is one jurisdiction's share of an assessment.
type Component struct {
	Jurisdiction string  `json:"jurisdiction"`
	Rate         float64 `json:"rate"`
	Amount       int64   `json:"amount"`
}

// Assessment is the tax decision for an invoice subtotal. Reason is set
// only when the amount is zero for a named cause.
type Assessment struct {
	Amount    int64       `json:"amount"`
	Rate      float64     `json:"rate"`
	Breakdown []Component `json:"breakdown,omitempty"`
	Reason    *string     `json:"reason,omitempty"`
}

// TaxAmount applies rate to a subtotal in minor units, rounded to the
// nearest unit. Rounding happens only here to keep stored values
// integer-safe.
func TaxAmount(subtotal int64, rate float64) int64 {
	if subtotal <= 0 || rate <= 0 {
		return 0
	}
	amount := int64(math.Round(float64(subtotal) * rate))
	if amount < 0 {
		return 0
	}
	return amount
}
