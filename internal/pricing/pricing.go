// Package pricing derives invoice money fields from line items.
//
// All amounts are fixed-point and rounded half away from zero to cents,
// which equals half-up for the non-negative amounts handled here.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidOrder is returned for empty or malformed line lists
var ErrInvalidOrder = errors.New("invalid order")

// Places is the number of decimal places kept on money amounts
const Places = 2

var hundred = decimal.NewFromInt(100)

// Line is one priced line of an order
type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

// Totals are the derived money fields of an invoice
type Totals struct {
	Subtotal    decimal.Decimal
	TaxRate     decimal.Decimal
	TaxAmount   decimal.Decimal
	TotalAmount decimal.Decimal
}

// Calculate prices lines at the given tax rate percentage. The rate is
// rounded to Places first, so the returned TaxRate reproduces TaxAmount.
func Calculate(lines []Line, taxRate decimal.Decimal) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	if taxRate.IsNegative() {
		return Totals{}, fmt.Errorf("%w: tax rate must not be negative", ErrInvalidOrder)
	}
	taxRate = taxRate.Round(Places)

	subtotal := decimal.Zero
	for i, l := range lines {
		if l.Quantity <= 0 {
			return Totals{}, fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidOrder, i+1)
		}
		if l.UnitPrice.IsNegative() {
			return Totals{}, fmt.Errorf("%w: line %d unit price must not be negative", ErrInvalidOrder, i+1)
		}
		if !IsCents(l.UnitPrice) {
			return Totals{}, fmt.Errorf("%w: line %d unit price has more than %d decimals", ErrInvalidOrder, i+1, Places)
		}
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	subtotal = subtotal.Round(Places)

	tax := Tax(subtotal, taxRate)

	return Totals{
		Subtotal:    subtotal,
		TaxRate:     taxRate,
		TaxAmount:   tax,
		TotalAmount: subtotal.Add(tax),
	}, nil
}

// Tax returns round(subtotal * rate / 100) to cents
func Tax(subtotal, rate decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(rate).Div(hundred).Round(Places)
}

// IsCents reports whether d has no more than Places decimals
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(Places))
}
