package ticket

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/testutil"
)

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name  string
		lines []model.TicketItem
		rate  string
		want  [3]string // subtotal, tax, total
	}{
		{
			name: "empty",
			rate: "7",
			want: [3]string{"0.00", "0.00", "0.00"},
		},
		{
			name: "single line",
			lines: []model.TicketItem{
				{Qty: 2, Price: testutil.Dec("3.50"), LineTotal: testutil.Dec("7.00")},
			},
			rate: "5",
			want: [3]string{"7.00", "0.35", "7.35"},
		},
		{
			name: "stored line totals are not trusted",
			lines: []model.TicketItem{
				{Qty: 3, Price: testutil.Dec("1.10")},
				{Qty: 1, Price: testutil.Dec("2.00"), LineTotal: testutil.Dec("0.01")},
			},
			rate: "0",
			want: [3]string{"5.30", "0.00", "5.30"},
		},
		{
			name: "tax rounds half up",
			lines: []model.TicketItem{
				{Qty: 1, Price: testutil.Dec("0.50"), LineTotal: testutil.Dec("0.50")},
			},
			rate: "7",
			want: [3]string{"0.50", "0.04", "0.54"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotals(tt.lines, decimal.RequireFromString(tt.rate))
			if s := got.Subtotal.StringFixed(2); s != tt.want[0] {
				t.Errorf("Subtotal = %s, want %s", s, tt.want[0])
			}
			if s := got.TaxAmount.StringFixed(2); s != tt.want[1] {
				t.Errorf("TaxAmount = %s, want %s", s, tt.want[1])
			}
			if s := got.Total.StringFixed(2); s != tt.want[2] {
				t.Errorf("Total = %s, want %s", s, tt.want[2])
			}
		})
	}
}
