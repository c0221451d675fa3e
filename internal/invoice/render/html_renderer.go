package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/recurhq/recur/internal/invoice/domain"
)

const invoiceHTMLTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Invoice {{.Invoice.Number}}</title>
  <style>
    * { box-sizing: border-box; }
    body {
      margin: 0;
      padding: 40px;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
      color: #1a1f36;
      background: #f7f9fc;
      -webkit-font-smoothing: antialiased;
    }
    .invoice-card {
      background: #ffffff;
      max-width: 760px;
      margin: 0 auto;
      padding: 60px;
      box-shadow: 0 2px 5px rgba(0,0,0,0.04);
      border-radius: 4px;
    }
    .header {
      display: flex;
      justify-content: space-between;
      margin-bottom: 40px;
    }
    .header h1 {
      margin: 0;
      font-size: 24px;
      font-weight: 700;
    }
    .badge {
      display: inline-block;
      padding: 2px 10px;
      border-radius: 12px;
      font-size: 12px;
      font-weight: 600;
      text-transform: uppercase;
      letter-spacing: 0.3px;
      background: {{statusBackground .Invoice.Status}};
      color: {{statusColor .Invoice.Status}};
    }
    .meta-grid {
      display: flex;
      justify-content: space-between;
      margin-bottom: 40px;
    }
    .col { flex: 1; }
    .label {
      font-size: 11px;
      text-transform: uppercase;
      color: #8792a2;
      margin-bottom: 6px;
      font-weight: 600;
      letter-spacing: 0.3px;
    }
    .value {
      font-size: 14px;
      line-height: 1.5;
    }
    .amount-large {
      font-size: 32px;
      font-weight: 700;
      margin-bottom: 4px;
    }
    table {
      width: 100%;
      border-collapse: collapse;
      margin-bottom: 30px;
    }
    th {
      text-align: left;
      text-transform: uppercase;
      font-size: 11px;
      color: #8792a2;
      border-bottom: 1px solid #e3e8ee;
      padding: 10px 0;
      font-weight: 600;
      letter-spacing: 0.3px;
    }
    td {
      padding: 14px 0;
      border-bottom: 1px solid #e3e8ee;
      font-size: 14px;
      vertical-align: top;
    }
    .td-right { text-align: right; }
    .credit { color: #0e6245; }
    .totals {
      display: flex;
      flex-direction: column;
      align-items: flex-end;
    }
    .total-row {
      display: flex;
      justify-content: space-between;
      width: 280px;
      padding: 6px 0;
      font-size: 14px;
    }
    .total-label { color: #697386; }
    .total-final {
      border-top: 1px solid #e3e8ee;
      margin-top: 10px;
      padding-top: 10px;
      font-weight: 700;
      font-size: 16px;
    }
    .footer {
      margin-top: 60px;
      font-size: 12px;
      color: #8792a2;
      border-top: 1px solid #e3e8ee;
      padding-top: 20px;
    }
  </style>
</head>
<body>
  <div class="invoice-card">
    <div class="header">
      <div>
        <h1>Invoice</h1>
        <div class="label" style="margin-top: 12px;">Invoice number</div>
        <div class="value">{{.Invoice.Number}}</div>
      </div>
      <div style="text-align: right;">
        <span class="badge">{{.Invoice.Status}}</span>
      </div>
    </div>

    <div class="meta-grid">
      <div class="col">
        <div class="label">Bill to</div>
        <div class="value">
          <strong>{{.AccountName}}</strong><br>
          {{.AccountEmail}}
        </div>
      </div>
      <div class="col" style="flex: 0 0 220px;">
        <div class="label">Billing period</div>
        <div class="value">{{formatDate .Invoice.PeriodStart}} to {{formatDate .Invoice.PeriodEnd}}</div>
        <div class="label" style="margin-top: 16px;">Due date</div>
        <div class="value">{{formatDate .Invoice.DueDate}}</div>
        {{if .Invoice.PaidAt}}
        <div class="label" style="margin-top: 16px;">Paid on</div>
        <div class="value">{{formatDate (deref .Invoice.PaidAt)}}</div>
        {{end}}
      </div>
    </div>

    <div style="margin-bottom: 40px;">
      <div class="amount-large">{{formatMoney .Invoice.AmountDue .Invoice.Currency}}</div>
      <div class="value" style="color: #697386;">due {{formatDate .Invoice.DueDate}}</div>
    </div>

    <table>
      <thead>
        <tr>
          <th style="width: 60%;">Description</th>
          <th class="td-right">Qty</th>
          <th class="td-right">Amount</th>
        </tr>
      </thead>
      <tbody>
        {{range .Invoice.LineItems}}
        <tr>
          <td>{{.Description}}</td>
          <td class="td-right">{{.Quantity}}</td>
          <td class="td-right {{if lt .Amount 0}}credit{{end}}" style="font-weight: 500;">{{formatMoney .Amount $.Invoice.Currency}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>

    <div class="totals">
      <div class="total-row">
        <span class="total-label">Subtotal</span>
        <span>{{formatMoney .Invoice.Subtotal .Invoice.Currency}}</span>
      </div>
      <div class="total-row">
        <span class="total-label">Tax</span>
        <span>{{formatMoney .Invoice.Tax .Invoice.Currency}}</span>
      </div>
      {{if .Invoice.CreditApplied}}
      <div class="total-row">
        <span class="total-label">Credit applied</span>
        <span class="credit">-{{formatMoney .Invoice.CreditApplied .Invoice.Currency}}</span>
      </div>
      {{end}}
      {{if .Invoice.AmountPaid}}
      <div class="total-row">
        <span class="total-label">Amount paid</span>
        <span class="credit">-{{formatMoney .Invoice.AmountPaid .Invoice.Currency}}</span>
      </div>
      {{end}}
      <div class="total-row total-final">
        <span class="total-label" style="color: #1a1f36;">Amount due</span>
        <span>{{formatMoney .Invoice.AmountDue .Invoice.Currency}}</span>
      </div>
    </div>

    {{if .Invoice.VoidedAt}}
    <div class="footer">
      Voided {{formatDate (deref .Invoice.VoidedAt)}}.
    </div>
    {{end}}
  </div>
</body>
</html>
`

type HTMLRenderer struct {
	tpl *template.Template
}

func NewRenderer() Renderer {
	funcs := template.FuncMap{
		"formatMoney":      formatMoney,
		"formatDate":       formatDate,
		"deref":            func(t *time.Time) time.Time { return *t },
		"statusBackground": statusBackground,
		"statusColor":      statusColor,
	}
	return &HTMLRenderer{
		tpl: template.Must(template.New("invoice").Funcs(funcs).Parse(invoiceHTMLTemplate)),
	}
}

func (r *HTMLRenderer) RenderHTML(input RenderInput) (string, error) {
	if input.AccountName == "" {
		input.AccountName = "Customer"
	}
	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, input); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatMoney renders minor units in the major unit with two decimals.
func formatMoney(amount int64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%s %d.%02d", sign, currency, amount/100, amount%100)
}

func formatDate(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format("Jan 2, 2006")
}

func statusBackground(status domain.Status) template.CSS {
	switch status {
	case domain.StatusPaid:
		return "#d7f7c2"
	case domain.StatusPastDue, domain.StatusVoid:
		return "#fde2dd"
	default:
		return "#e3e8ee"
	}
}

func statusColor(status domain.Status) template.CSS {
	switch status {
	case domain.StatusPaid:
		return "#0e6245"
	case domain.StatusPastDue, domain.StatusVoid:
		return "#a41c4e"
	default:
		return "#4f566b"
	}
}
