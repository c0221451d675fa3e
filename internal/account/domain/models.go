package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusWarning Status = "warning"
	StatusBlocked Status = "blocked"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusWarning, StatusBlocked:
		return true
	}
	return false
}

// allowedTransitions holds the account standing transitions the dunning
// escalation and reversal paths may take.
var allowedTransitions = map[Status][]Status{
	StatusActive:  {StatusWarning, StatusBlocked},
	StatusWarning: {StatusBlocked, StatusActive},
	StatusBlocked: {StatusActive},
}

func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Account struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name      string            `gorm:"column:name" json:"name"`
	Email     string            `gorm:"column:email;uniqueIndex" json:"email"`
	Currency  string            `gorm:"column:currency;size:3" json:"currency"`
	Timezone  string            `gorm:"column:timezone" json:"timezone"`
	Status    Status            `gorm:"column:status;index" json:"status"`
	TaxExempt bool              `gorm:"column:tax_exempt" json:"tax_exempt"`
	TaxID     *string           `gorm:"column:tax_id" json:"tax_id,omitempty"`
	VatID     *string           `gorm:"column:vat_id" json:"vat_id,omitempty"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time         `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt *time.Time        `gorm:"column:deleted_at" json:"deleted_at,omitempty"`
}

func (Account) TableName() string { return "accounts" }

// Blocked reports whether mutating subscription operations are gated.
func (a Account) Blocked() bool {
	return a.Status == StatusBlocked
}

// ReverseCharge reports whether a valid VAT ID moves tax liability to the
// buyer, in which case invoices carry zero tax.
func (a Account) ReverseCharge() bool {
	return a.VatID != nil && *a.VatID != ""
}
