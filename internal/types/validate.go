package types

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xtxerr/highwater/internal/errors"
)

// ParsePrice parses a decimal price string, enforcing the precision bounds.
// A value that would need truncation to fit is rejected with
// ErrPrecisionLoss rather than silently rounded.
func ParsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", errors.ErrInvalidPrice, s)
	}
	if err := CheckPrice(d); err != nil {
		return decimal.Decimal{}, err
	}
	return d, nil
}

// CheckPrice validates a price against the representable bounds.
func CheckPrice(d decimal.Decimal) error {
	if d.Sign() <= 0 {
		return fmt.Errorf("%w: must be positive, got %s", errors.ErrInvalidPrice, d)
	}
	if d.Exponent() < -MaxPriceScale {
		return fmt.Errorf("%w: scale %d exceeds %d", errors.ErrPrecisionLoss, -d.Exponent(), MaxPriceScale)
	}
	if len(d.Coefficient().String()) > MaxPriceDigits {
		return fmt.Errorf("%w: more than %d significant digits", errors.ErrPrecisionLoss, MaxPriceDigits)
	}
	return nil
}

// Validate checks a trade against the precision bounds and the configured
// category cap. maxCategory of 0 disables the category check.
func (t *Trade) Validate(maxCategory uint32) error {
	if err := CheckPrice(t.Price); err != nil {
		return err
	}
	if maxCategory > 0 && t.Category >= maxCategory {
		return fmt.Errorf("%w: %d not below %d", errors.ErrInvalidCategory, t.Category, maxCategory)
	}
	return nil
}
