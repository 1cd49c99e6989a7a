package orders

import "github.com/shopspring/decimal"

// Money is rounded to 2 decimal places, half up.
const moneyPlaces = 2

// Subtotal prices one line: unit price x qty, rounded to 2dp.
func Subtotal(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	if qty <= 0 {
		return decimal.Zero
	}
	return unitPrice.Mul(decimal.NewFromInt(int64(qty))).Round(moneyPlaces)
}

// PricedLine is a cart line after pricing, ready to become an OrderItem.
type PricedLine struct {
	ProductID string
	Qty       int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	// PriceMissing marks a line whose product has no price. It
	// contributes zero to the total; the coordinator must surface it
	// instead of silently shrinking the order.
	PriceMissing bool
}

// PriceLine builds a PricedLine from the catalog price. A null price is
// recorded, not dropped.
func PriceLine(productID string, price decimal.NullDecimal, qty int) PricedLine {
	if !price.Valid {
		return PricedLine{ProductID: productID, Qty: qty, PriceMissing: true}
	}
	return PricedLine{
		ProductID: productID,
		Qty:       qty,
		UnitPrice: price.Decimal,
		Subtotal:  Subtotal(price.Decimal, qty),
	}
}

// Total sums the already-rounded line subtotals. Each line is rounded
// independently; the order total is not recomputed from raw products.
func Total(lines []PricedLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal)
	}
	return total.Round(moneyPlaces)
}
