// Package stock computes item-level totals from a stock item's variants.
package stock

import (
	"github.com/shopspring/decimal"

	"cropledger/internal/domain"
)

// Totals are the derived item-level figures of a variant list.
type Totals struct {
	Quantity float64         // sum of weight_kg * quantity
	Bags     int             // sum of quantity
	Value    decimal.Decimal // sum of variant total_value
}

// Aggregate sums the variants. Each variant's TotalValue is taken as given;
// it is not checked against RatePerBag * Quantity.
func Aggregate(variants []domain.Variant) Totals {
	t := Totals{Value: decimal.Zero}
	for _, v := range variants {
		t.Quantity += v.WeightKg * float64(v.Quantity)
		t.Bags += v.Quantity
		t.Value = t.Value.Add(v.TotalValue)
	}
	return t
}

// Apply replaces the variant list and all derived totals of item together.
func Apply(item *domain.StockItem, variants []domain.Variant) {
	cp := make(domain.Variants, len(variants))
	copy(cp, variants)
	t := Aggregate(cp)
	item.Variants = cp
	item.TotalQuantity = t.Quantity
	item.TotalBags = t.Bags
	item.TotalValue = t.Value
}

// LineValue is the caller-side helper for a variant's total_value.
func LineValue(rate decimal.Decimal, bags int) decimal.Decimal {
	return rate.Mul(decimal.NewFromInt(int64(bags)))
}
