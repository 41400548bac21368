// Package report renders a shift's settlement and cash ledgers as an XLSX
// workbook for the back office.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/shift"
)

// Sheet names, in workbook order.
const (
	SheetSummary = "Summary"
	SheetItems   = "Items"
	SheetCash    = "Cash"
	SheetPetty   = "Petty"
)

const timeLayout = "2006-01-02 15:04"

// Report is everything a shift workbook shows.
type Report struct {
	Shift model.Shift
	Cash  shift.Balance
	Petty shift.Balance
}

// Build loads a shift and its ledgers. Open shifts are reported as they
// stand.
func Build(ctx context.Context, m *shift.Manager, shiftID string) (Report, error) {
	sh, err := m.Get(ctx, shiftID)
	if err != nil {
		return Report{}, err
	}
	cash, petty, err := m.Ledgers(ctx, sh.ID)
	if err != nil {
		return Report{}, fmt.Errorf("load ledgers of shift %s: %w", sh.ID, err)
	}
	return Report{Shift: sh, Cash: cash, Petty: petty}, nil
}

// FileName is the default workbook name, e.g. "shift-004-2026-03-14.xlsx".
func (r Report) FileName() string {
	return slug.Make(fmt.Sprintf("shift %s %s", r.Shift.ID, r.Shift.OpenedAt.Format("2006-01-02"))) + ".xlsx"
}

// WriteXLSX renders the workbook to w.
func (r Report) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	for _, name := range []string{SheetItems, SheetCash, SheetPetty} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	sheets := []struct {
		name string
		rows [][]any
		cols []float64
	}{
		{SheetSummary, r.summaryRows(), []float64{22, 24}},
		{SheetItems, r.itemRows(), []float64{30, 10}},
		{SheetCash, ledgerRows(r.Cash, "Type"), []float64{18, 14, 12, 12, 36, 12}},
		{SheetPetty, ledgerRows(r.Petty, "Category"), []float64{18, 14, 16, 12, 36, 12}},
	}
	for _, s := range sheets {
		if err := writeRows(f, s.name, s.rows); err != nil {
			return err
		}
		for i, width := range s.cols {
			col, _ := excelize.ColumnNumberToName(i + 1)
			if err := f.SetColWidth(s.name, col, col, width); err != nil {
				return fmt.Errorf("size %s column %s: %w", s.name, col, err)
			}
		}
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func (r Report) summaryRows() [][]any {
	sh := r.Shift
	total := sh.CashSales.Add(sh.CardSales).Add(sh.PromptPaySales)
	rows := [][]any{
		{"Shift", sh.ID},
		{"Status", string(sh.Status)},
		{"Opened at", formatTime(sh.OpenedAt)},
		{"Opened by", sh.OpenedBy},
		{"Closed at", formatOptTime(sh.ClosedAt)},
		{"Closed by", sh.ClosedBy},
		{"Cash sales", money(sh.CashSales)},
		{"Card sales", money(sh.CardSales)},
		{"PromptPay sales", money(sh.PromptPaySales)},
		{"Total sales", money(total)},
		{"Tickets", sh.TicketsCount},
		{"Opening float", money(sh.OpeningFloat)},
		{"Cash adjustments", money(r.Cash.Net)},
		{"Expected drawer", money(r.Cash.Current.Add(sh.CashSales))},
		{"Closing float", optMoney(sh.ClosingFloat)},
		{"Float withdrawn", optMoney(sh.FloatWithdrawn)},
		{"Opening petty", money(sh.OpeningPetty)},
		{"Petty movements", money(r.Petty.Net)},
		{"Petty balance", money(r.Petty.Current)},
		{"Closing petty", optMoney(sh.ClosingPetty)},
	}
	if sh.Notes != "" {
		rows = append(rows, []any{"Notes", sh.Notes})
	}
	return rows
}

// itemRows lists the items-sold histogram, best sellers first.
func (r Report) itemRows() [][]any {
	names := make([]string, 0, len(r.Shift.ItemsSold))
	for name := range r.Shift.ItemsSold {
		names = append(names, name)
	}
	sold := r.Shift.ItemsSold
	sort.Slice(names, func(i, j int) bool {
		if sold[names[i]] != sold[names[j]] {
			return sold[names[i]] > sold[names[j]]
		}
		return names[i] < names[j]
	})

	rows := [][]any{{"Item", "Qty"}}
	total := 0
	for _, name := range names {
		rows = append(rows, []any{name, sold[name]})
		total += sold[name]
	}
	return append(rows, []any{"Total", total})
}

// ledgerRows renders a cash or petty ledger. label heads the column that
// carries the entry's type or category.
func ledgerRows(b shift.Balance, label string) [][]any {
	rows := [][]any{
		{"Time", "Actor", label, "Amount", "Description", "Balance"},
		{"", "", "Opening", "", "", money(b.Opening)},
	}
	for _, e := range b.Entries {
		tag := e.Type
		if label == "Category" {
			tag = e.Category
		}
		rows = append(rows, []any{formatTime(e.At), e.Actor, tag, money(e.Amount), e.Description, money(e.Balance)})
	}
	return append(rows, []any{"", "", "Net", money(b.Net), "", money(b.Current)})
}

func money(d decimal.Decimal) float64 { return model.Float(d) }

func optMoney(d decimal.NullDecimal) any {
	if !d.Valid {
		return ""
	}
	return money(d.Decimal)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func formatOptTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
