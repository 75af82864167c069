package fines

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// DefaultRatePerDay is the penalty charged for each started day past the due date
var DefaultRatePerDay = decimal.RequireFromString("0.50")

var ErrMissingReturnDate = errors.New("return date is required")

// Calculator computes overdue fines. The zero value is not usable, use NewCalculator.
type Calculator struct {
	ratePerDay decimal.Decimal
}

// NewCalculator returns a calculator charging ratePerDay for each started day late.
// A non-positive rate falls back to DefaultRatePerDay.
func NewCalculator(ratePerDay decimal.Decimal) *Calculator {
	if !ratePerDay.IsPositive() {
		ratePerDay = DefaultRatePerDay
	}
	return &Calculator{ratePerDay: ratePerDay}
}

func (c *Calculator) RatePerDay() decimal.Decimal {
	return c.ratePerDay
}

// DaysLate returns the number of started 24h periods between dueDate and returnDate.
// Both instants are compared in UTC.
func DaysLate(dueDate, returnDate time.Time) int64 {
	late := returnDate.UTC().Sub(dueDate.UTC())
	if late <= 0 {
		return 0
	}
	days := int64(late / day)
	if late%day != 0 {
		days++
	}
	return days
}

// Compute returns the fine for a copy due at dueDate and returned at returnDate,
// rounded to two decimals. Returns zero for on-time returns.
func (c *Calculator) Compute(dueDate time.Time, returnDate *time.Time) (decimal.Decimal, error) {
	if returnDate == nil || returnDate.IsZero() {
		return decimal.Zero, ErrMissingReturnDate
	}
	return c.ComputeAt(dueDate, *returnDate), nil
}

// ComputeAt is Compute for a known return instant. It also serves to project the fine
// accrued so far on a loan that is still open.
func (c *Calculator) ComputeAt(dueDate, returnDate time.Time) decimal.Decimal {
	days := DaysLate(dueDate, returnDate)
	if days == 0 {
		return decimal.Zero
	}
	return c.ratePerDay.Mul(decimal.NewFromInt(days)).Round(2)
}
