package utils

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParseAmount reads a positive amount with at most two decimal places.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", raw)
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
		return decimal.Zero, fmt.Errorf("amount %s has more than two decimal places", raw)
	}
	return amount, nil
}

// FormatAmount renders an amount with thousand separators, e.g. 9700.97 -> "9,700.97".
func FormatAmount(amount decimal.Decimal) string {
	fixed := amount.Abs().StringFixed(2)
	integerPart, fraction := fixed[:len(fixed)-3], fixed[len(fixed)-3:]

	out := make([]byte, 0, len(fixed)+len(integerPart)/3+1)
	if amount.IsNegative() {
		out = append(out, '-')
	}
	for i := 0; i < len(integerPart); i++ {
		if i > 0 && (len(integerPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, integerPart[i])
	}
	return string(out) + fraction
}
