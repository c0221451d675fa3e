package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentMethod struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID    snowflake.ID `gorm:"column:account_id;index" json:"account_id"`
	GatewayToken string       `gorm:"column:gateway_token;uniqueIndex" json:"gateway_token"`
	Brand        string       `gorm:"column:brand" json:"brand"`
	Last4        string       `gorm:"column:last4;size:4" json:"last4"`
	ExpMonth     int          `gorm:"column:exp_month" json:"exp_month"`
	ExpYear      int          `gorm:"column:exp_year" json:"exp_year"`
	IsDefault    bool         `gorm:"column:is_default" json:"is_default"`
	CreatedAt    time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

// Expired reports whether the card expiry has passed as of now.
func (m PaymentMethod) Expired(now time.Time) bool {
	if m.ExpYear == 0 {
		return false
	}
	if m.ExpYear != now.Year() {
		return m.ExpYear < now.Year()
	}
	return m.ExpMonth < int(now.Month())
}
