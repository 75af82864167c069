// Package inventory owns the copy counters of a book. Every change to
// TotalCopies or AvailableCopies goes through these functions so that
// 0 <= available <= total holds and the number of copies out on loan
// matches the open transactions for the book.
package inventory

import (
	"fmt"

	"library-circulation/internal/domain"
)

// ReserveCopy takes one copy off the shelf.
func ReserveCopy(b *domain.Book) error {
	if b.AvailableCopies < 1 {
		return fmt.Errorf("%w: book %s", domain.ErrUnavailable, b.ID)
	}
	b.AvailableCopies--
	return nil
}

// ReleaseCopy puts one copy back on the shelf.
func ReleaseCopy(b *domain.Book) error {
	if b.AvailableCopies+1 > b.TotalCopies {
		return fmt.Errorf("%w: book %s would have %d of %d copies available",
			domain.ErrInvariantViolation, b.ID, b.AvailableCopies+1, b.TotalCopies)
	}
	b.AvailableCopies++
	return nil
}

// Resize changes the number of owned copies while keeping the copies on loan
// untouched. Available copies follow as total minus on loan.
func Resize(b *domain.Book, totalCopies int) error {
	if totalCopies < 1 {
		return fmt.Errorf("%w: total copies must be at least 1", domain.ErrInvalidInput)
	}
	onLoan := b.OnLoan()
	if totalCopies < onLoan {
		return fmt.Errorf("%w: book %s has %d copies on loan, cannot reduce to %d",
			domain.ErrInvalidInput, b.ID, onLoan, totalCopies)
	}
	b.TotalCopies = totalCopies
	b.AvailableCopies = clamp(totalCopies-onLoan, 0, totalCopies)
	return nil
}

// Check verifies the counter bounds of a single book.
func Check(b domain.Book) error {
	if b.TotalCopies < 1 {
		return fmt.Errorf("%w: book %s has %d total copies", domain.ErrInvariantViolation, b.ID, b.TotalCopies)
	}
	if b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies {
		return fmt.Errorf("%w: book %s has %d of %d copies available",
			domain.ErrInvariantViolation, b.ID, b.AvailableCopies, b.TotalCopies)
	}
	return nil
}

// CheckLoans verifies that the copies missing from the shelf are exactly the open loans.
func CheckLoans(b domain.Book, openLoans int) error {
	if err := Check(b); err != nil {
		return err
	}
	if b.OnLoan() != openLoans {
		return fmt.Errorf("%w: book %s has %d copies out but %d open transactions",
			domain.ErrInvariantViolation, b.ID, b.OnLoan(), openLoans)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
