// Package money holds the rounding rules shared by every monetary figure the
// engine stores: two decimal places, half-up.
package money

import "github.com/shopspring/decimal"

const Places = 2

var (
	Zero = decimal.Zero
	Cent = decimal.New(1, -Places)
)

// Round rounds to cents. Amounts are non-negative so decimal's half away from
// zero rounding is half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// NonNegative clamps d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return Zero
	}
	return d
}

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Percent returns base × rate rounded to cents.
func Percent(base, rate decimal.Decimal) decimal.Decimal {
	return Round(base.Mul(rate))
}
