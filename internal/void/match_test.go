package void

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/till/internal/model"
)

func TestMatchLine(t *testing.T) {
	items := []model.TicketItem{
		{Name: "Latte", SKU: "LAT-L"},
		{Name: "Latte", SKU: "LAT-S"},
		{Name: "Café Crème"},
		{Name: "STRASSE"},
	}

	tests := []struct {
		name string
		sku  string
		item string
		want int
	}{
		{"first name match", "", "latte", 0},
		{"sku wins over name", "lat-s", "Latte", 1},
		{"unknown sku falls back to name", "NOPE", "Latte", 0},
		{"combining accent", "", "cafe\u0301 cre\u0300me", 2},
		{"full case folding", "", "straße", 3},
		{"surrounding space", "", "  latte ", 0},
		{"no match", "", "Scone", -1},
		{"blank name", "", "  ", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchLine(items, tt.sku, tt.item))
		})
	}
}
