package ticket

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/till/internal/model"
)

// Totals are the amounts due for a set of lines.
type Totals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxRate   decimal.Decimal `json:"taxRate"`
	TaxAmount decimal.Decimal `json:"taxAmount"`
	Total     decimal.Decimal `json:"total"`
}

// ComputeTotals sums qty × price over the lines and applies rate percent
// tax rounded to cents. Stored line totals are never read.
func ComputeTotals(lines []model.TicketItem, rate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(model.LineTotal(l.Qty, l.Price))
	}
	subtotal = model.Round2(subtotal)
	tax := model.Percent(subtotal, rate)
	return Totals{
		Subtotal:  subtotal,
		TaxRate:   rate,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}
}
