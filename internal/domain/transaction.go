package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction records one borrow of one copy. ReturnDate is nil while the loan is open.
// Once closed, a transaction is never modified again.
type Transaction struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	BookID     uuid.UUID       `json:"book_id" db:"book_id"`
	UserID     uuid.UUID       `json:"user_id" db:"user_id"`
	BorrowDate time.Time       `json:"borrow_date" db:"borrow_date"`
	DueDate    time.Time       `json:"due_date" db:"due_date"`
	ReturnDate *time.Time      `json:"return_date,omitempty" db:"return_date"`
	FineAmount decimal.Decimal `json:"fine_amount" db:"fine_amount"`
}

func (t Transaction) IsOpen() bool {
	return t.ReturnDate == nil
}

// IsLate reports whether the transaction closed with a fine.
func (t Transaction) IsLate() bool {
	return !t.IsOpen() && t.FineAmount.IsPositive()
}

// Validate checks the record-level rules: a fine only on a return after the due date,
// and no fine on an open loan.
func (t Transaction) Validate() error {
	if t.FineAmount.IsNegative() {
		return fmt.Errorf("%w: transaction %s has negative fine %s", ErrInvariantViolation, t.ID, t.FineAmount)
	}
	if !t.FineAmount.IsPositive() {
		return nil
	}
	if t.IsOpen() {
		return fmt.Errorf("%w: open transaction %s carries a fine", ErrInvariantViolation, t.ID)
	}
	if !t.ReturnDate.After(t.DueDate) {
		return fmt.Errorf("%w: transaction %s fined without a late return", ErrInvariantViolation, t.ID)
	}
	return nil
}
