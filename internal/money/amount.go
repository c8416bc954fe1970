// Package money provides a fixed-point decimal amount type for account
// balances and ledger arithmetic, avoiding the float64 rounding drift that
// accumulates across repeated credit grants and deductions.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// epsilon is the tolerance below which two amounts are treated as equal,
// matching the original float-based system's $0.01 slack.
var epsilon = decimal.NewFromFloat(0.01)

// Amount wraps decimal.Decimal so ledger and balance arithmetic never touches
// a binary float.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// New builds an Amount from a string, e.g. "12.50".
func New(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

// NewFromFloat builds an Amount from a float64. Prefer New for values that
// originate as strings (e.g. Stripe amounts already in decimal form).
func NewFromFloat(f float64) Amount {
	return Amount{d: decimal.NewFromFloat(f)}
}

// NewFromCents builds an Amount from an integer minor-unit value, the form
// Stripe reports amounts in.
func NewFromCents(cents int64) Amount {
	return Amount{d: decimal.New(cents, -2)}
}

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }
func (a Amount) Neg() Amount         { return Amount{d: a.d.Neg()} }

// GTE reports whether a >= b.
func (a Amount) GTE(b Amount) bool { return a.d.GreaterThanOrEqual(b.d) }

// GT reports whether a > b.
func (a Amount) GT(b Amount) bool { return a.d.GreaterThan(b.d) }

// LT reports whether a < b.
func (a Amount) LT(b Amount) bool { return a.d.LessThan(b.d) }

// Equal reports whether a and b differ by less than epsilon.
func (a Amount) Equal(b Amount) bool {
	return a.d.Sub(b.d).Abs().LessThan(epsilon)
}

// IsZero reports whether a is within epsilon of zero.
func (a Amount) IsZero() bool {
	return a.d.Abs().LessThan(epsilon)
}

// IsNegative reports whether a is below -epsilon.
func (a Amount) IsNegative() bool {
	return a.d.LessThan(epsilon.Neg())
}

// Cents returns the amount as integer minor units, rounded to 2 decimal places.
func (a Amount) Cents() int64 {
	return a.d.Mul(decimal.New(100, 0)).Round(0).IntPart()
}

// Float64 returns the amount as a float64, for comparisons against values
// that only exist as floats (e.g. tier monthly deposits compared in the
// renewal-vs-upgrade classifier).
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

func (a Amount) String() string { return a.d.StringFixed(2) }

// Value implements driver.Valuer for database/sql, storing the amount as its
// fixed-point string form (NUMERIC column).
func (a Amount) Value() (driver.Value, error) {
	return a.d.StringFixed(2), nil
}

// Scan implements sql.Scanner, accepting the NUMERIC/string/[]byte forms
// lib/pq and test fixtures produce.
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		a.d = decimal.Zero
		return nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("money: scan string %q: %w", v, err)
		}
		a.d = d
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("money: scan bytes %q: %w", v, err)
		}
		a.d = d
		return nil
	case float64:
		a.d = decimal.NewFromFloat(v)
		return nil
	default:
		return fmt.Errorf("money: unsupported scan type %T", src)
	}
}
