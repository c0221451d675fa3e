package render

import (
	"testing"
	"time"

	"github.com/recurhq/recur/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPaidInvoice(t *testing.T) {
	paidAt := time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)
	invoice := domain.Invoice{
		Number:      "INV-000042",
		Status:      domain.StatusPaid,
		Currency:    "USD",
		Subtotal:    2000,
		Tax:         200,
		AmountDue:   0,
		AmountPaid:  2200,
		PeriodStart: paidAt.Add(-30 * 24 * time.Hour),
		PeriodEnd:   paidAt,
		DueDate:     paidAt.Add(7 * 24 * time.Hour),
		PaidAt:      &paidAt,
		LineItems: []domain.LineItem{
			{Type: "subscription", Description: "Pro (monthly)", Quantity: 1, Amount: 2000},
		},
	}

	html, err := NewRenderer().RenderHTML(RenderInput{
		Invoice:      invoice,
		AccountName:  "Acme",
		AccountEmail: "billing@acme.test",
	})
	require.NoError(t, err)

	assert.Contains(t, html, "INV-000042")
	assert.Contains(t, html, "Acme")
	assert.Contains(t, html, "billing@acme.test")
	assert.Contains(t, html, "Pro (monthly)")
	assert.Contains(t, html, "USD 20.00")
	assert.Contains(t, html, "USD 22.00")
	assert.Contains(t, html, "Paid on")
	assert.Contains(t, html, "Amount paid")
	assert.Contains(t, html, "Jan 20, 2025")
}

func TestRenderDefaultsAccountName(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	invoice := domain.Invoice{
		Number:      "INV-000007",
		Status:      domain.StatusOpen,
		Currency:    "USD",
		Subtotal:    500,
		Tax:         50,
		AmountDue:   550,
		PeriodStart: now.Add(-30 * 24 * time.Hour),
		PeriodEnd:   now,
		DueDate:     now.Add(7 * 24 * time.Hour),
	}

	html, err := NewRenderer().RenderHTML(RenderInput{Invoice: invoice})
	require.NoError(t, err)

	assert.Contains(t, html, "Customer")
	assert.Contains(t, html, "USD 5.50")
	assert.NotContains(t, html, "Paid on")
	assert.NotContains(t, html, "Credit applied")
}
