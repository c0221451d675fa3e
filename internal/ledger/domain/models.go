// Package domain holds the double-entry journal the billing engine posts
// its economic events into. Every entry balances: the sum of debits equals
// the sum of credits, and an entry is keyed by the event that produced it
// so a replayed posting is a no-op.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Direction of a posting line.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// SourceType identifies the engine event a journal entry records.
type SourceType string

const (
	SourceBillingCycle SourceType = "billing_cycle" // invoice opened (cycle, proration, or supplemental)
	SourceAdjustment   SourceType = "adjustment"    // late-usage extension or void write-off
	SourcePayment      SourceType = "payment"       // successful payment settled
	SourceRefund       SourceType = "refund"        // paid invoice reversed into a credit
	SourceCreditGrant  SourceType = "credit_grant"  // promotional or goodwill credit issued
	SourceCreditUse    SourceType = "credit_use"    // credit consumed by an invoice
)

// Valid reports whether the source type is one the engine produces.
func (s SourceType) Valid() bool {
	switch s {
	case SourceBillingCycle, SourceAdjustment, SourcePayment, SourceRefund, SourceCreditGrant, SourceCreditUse:
		return true
	default:
		return false
	}
}

// AccountCode names a chart-of-accounts slot.
type AccountCode string

const (
	// Assets
	AccountAccountsReceivable AccountCode = "accounts_receivable"
	AccountCash               AccountCode = "cash"

	// Revenue
	AccountRevenueFlat  AccountCode = "revenue_flat"
	AccountRevenueUsage AccountCode = "revenue_usage"

	// Liabilities
	AccountTaxPayable    AccountCode = "tax_payable"
	AccountCreditBalance AccountCode = "credit_balance"

	// Write-offs and credit grants offset here.
	AccountAdjustment AccountCode = "adjustment"
)

// ChartOfAccounts returns the static account set the engine posts against.
func ChartOfAccounts() []Account {
	return []Account{
		{Code: AccountAccountsReceivable, Name: "Accounts Receivable"},
		{Code: AccountCash, Name: "Cash"},
		{Code: AccountRevenueFlat, Name: "Subscription Revenue"},
		{Code: AccountRevenueUsage, Name: "Usage Revenue"},
		{Code: AccountTaxPayable, Name: "Tax Payable"},
		{Code: AccountCreditBalance, Name: "Customer Credit Balance"},
		{Code: AccountAdjustment, Name: "Adjustments"},
	}
}

// Account is a chart-of-accounts row.
type Account struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Code      AccountCode  `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "ledger_accounts" }

// Entry is the immutable header for one recorded economic event. The
// (source_type, source_id) pair is unique, which makes posting idempotent.
type Entry struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	SourceType SourceType   `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_source,priority:1" json:"source_type"`
	SourceID   snowflake.ID `gorm:"not null;uniqueIndex:ux_ledger_entries_source,priority:2" json:"source_id"`
	Currency   string       `gorm:"type:text;not null" json:"currency"`
	OccurredAt time.Time    `gorm:"not null" json:"occurred_at"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	Lines      []Line       `gorm:"-" json:"lines,omitempty"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "ledger_entries" }

// Line is a single posting leg.
type Line struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	EntryID   snowflake.ID `gorm:"not null;index" json:"entry_id"`
	AccountID snowflake.ID `gorm:"not null;index" json:"account_id"`
	Direction Direction    `gorm:"type:text;not null" json:"direction"`
	Amount    int64        `gorm:"not null" json:"amount"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Line) TableName() string { return "ledger_entry_lines" }

// Balance is an account's net position, debits minus credits.
type Balance struct {
	Code AccountCode `json:"code"`
	Net  int64       `json:"net"`
}

// LineInput is a posting leg addressed by account code. The service
// resolves codes to account rows when writing.
type LineInput struct {
	Code      AccountCode
	Direction Direction
	Amount    int64
}

// ValidateBalanced checks that debits and credits cancel out.
func ValidateBalanced(lines []LineInput) error {
	var net int64
	for _, line := range lines {
		switch line.Direction {
		case DirectionDebit:
			net += line.Amount
		case DirectionCredit:
			net -= line.Amount
		default:
			return ErrInvalidDirection
		}
	}
	if net != 0 {
		return ErrUnbalanced
	}
	return nil
}

// InvoicePosting builds the legs for an invoice reaching open: receivable
// against revenue and tax. Negative components (proration credits) flip to
// the opposite side; zero components are omitted.
func InvoicePosting(total, flat, usage, tax int64) []LineInput {
	lines := make([]LineInput, 0, 4)
	lines = appendSigned(lines, AccountAccountsReceivable, DirectionDebit, total)
	lines = appendSigned(lines, AccountRevenueFlat, DirectionCredit, flat)
	lines = appendSigned(lines, AccountRevenueUsage, DirectionCredit, usage)
	lines = appendSigned(lines, AccountTaxPayable, DirectionCredit, tax)
	return lines
}

// PaymentPosting settles cash against the receivable.
func PaymentPosting(amount int64) []LineInput {
	return []LineInput{
		{Code: AccountCash, Direction: DirectionDebit, Amount: amount},
		{Code: AccountAccountsReceivable, Direction: DirectionCredit, Amount: amount},
	}
}

// CreditGrantPosting records a credit issued to an account.
func CreditGrantPosting(amount int64) []LineInput {
	return []LineInput{
		{Code: AccountAdjustment, Direction: DirectionDebit, Amount: amount},
		{Code: AccountCreditBalance, Direction: DirectionCredit, Amount: amount},
	}
}

// CreditUsePosting records credit balance consumed by an invoice.
func CreditUsePosting(amount int64) []LineInput {
	return []LineInput{
		{Code: AccountCreditBalance, Direction: DirectionDebit, Amount: amount},
		{Code: AccountAccountsReceivable, Direction: DirectionCredit, Amount: amount},
	}
}

// WriteOffPosting clears the remaining receivable of a voided invoice.
func WriteOffPosting(amount int64) []LineInput {
	return []LineInput{
		{Code: AccountAdjustment, Direction: DirectionDebit, Amount: amount},
		{Code: AccountAccountsReceivable, Direction: DirectionCredit, Amount: amount},
	}
}

func appendSigned(lines []LineInput, code AccountCode, direction Direction, amount int64) []LineInput {
	if amount == 0 {
		return lines
	}
	if amount < 0 {
		amount = -amount
		if direction == DirectionDebit {
			direction = DirectionCredit
		} else {
			direction = DirectionDebit
		}
	}
	return append(lines, LineInput{Code: code, Direction: direction, Amount: amount})
}
