package domain

import (
	"time"

	"github.com/google/uuid"
)

// Book is a catalog entry together with its copy counters.
// Version increases on every write and backs optimistic concurrency.
type Book struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	Publisher       string    `json:"publisher" db:"publisher"`
	Category        string    `json:"category" db:"category"`
	TotalCopies     int       `json:"total_copies" db:"total_copies"`
	AvailableCopies int       `json:"available_copies" db:"available_copies"`
	Version         int64     `json:"version" db:"version"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// OnLoan is the number of copies currently out with borrowers.
func (b Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}
