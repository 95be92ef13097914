package ledger

import (
	"github.com/shopspring/decimal"
)

const (
	// MaxAmount is the largest single amount the till accepts, in minor
	// units (ten billion in whole currency).
	MaxAmount int64 = 1_000_000_000_000

	// MaxBalance bounds a customer's balance in either direction. Together
	// with MaxAmount it keeps balance arithmetic inside int64.
	MaxBalance int64 = 1_000 * MaxAmount
)

var maxAmount = decimal.NewFromInt(MaxAmount)

// ParseAmount converts a decoded amount into minor currency units.
//
// Missing or null amounts, fractions of a minor unit and values above
// MaxAmount are validation errors. decimal never holds NaN or infinities,
// so anything that decoded is finite.
func ParseAmount(v decimal.NullDecimal) (int64, error) {
	const op = "parse amount"
	if !v.Valid {
		return 0, Validationf(op, "amount is required")
	}
	d := v.Decimal
	if !d.IsInteger() {
		return 0, Validationf(op, "amount must be a whole number of minor units, got %s", d.String())
	}
	if d.Abs().GreaterThan(maxAmount) {
		return 0, Validationf(op, "amount %s is out of range", d.String())
	}
	return d.IntPart(), nil
}

// requireNonNegative guards movement amounts.
func requireNonNegative(op string, amount int64) error {
	if amount < 0 {
		return Validationf(op, "amount must not be negative, got %d", amount)
	}
	if amount > MaxAmount {
		return Validationf(op, "amount %d exceeds the maximum of %d", amount, MaxAmount)
	}
	return nil
}

// requirePositive guards credit extensions and payments, which must move the
// balance by a non-zero amount.
func requirePositive(op string, amount int64) error {
	if amount <= 0 {
		return Validationf(op, "amount must be greater than zero, got %d", amount)
	}
	if amount > MaxAmount {
		return Validationf(op, "amount %d exceeds the maximum of %d", amount, MaxAmount)
	}
	return nil
}

// nextBalance applies delta to balance, refusing results past MaxBalance so
// the stored column never leaves the integer range.
func nextBalance(op string, balance, delta int64) (int64, error) {
	next := balance + delta
	if next > MaxBalance || next < -MaxBalance {
		return 0, Validationf(op, "balance %d would pass the limit of %d", next, MaxBalance)
	}
	return next, nil
}
