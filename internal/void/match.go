package void

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/till/internal/model"
)

// foldName returns the comparison key for an item name: trimmed, NFC
// normalized and case folded, so "Café" typed with a combining accent
// matches the precomposed form.
func foldName(s string) string {
	// Casers carry state and are not shared.
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// matchLine returns the index of the first line a request refers to, or -1.
// A SKU match wins over a name match; the name is only consulted when no
// line carries the requested SKU.
func matchLine(items []model.TicketItem, sku, name string) int {
	if sku = strings.TrimSpace(sku); sku != "" {
		for i, it := range items {
			if strings.EqualFold(strings.TrimSpace(it.SKU), sku) {
				return i
			}
		}
	}
	key := foldName(name)
	if key == "" {
		return -1
	}
	for i, it := range items {
		if foldName(it.Name) == key {
			return i
		}
	}
	return -1
}
