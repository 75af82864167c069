package inventory

import (
	"sort"

	"github.com/google/uuid"

	"library-circulation/internal/domain"
)

// Violation is one broken rule found by Audit.
type Violation struct {
	BookID        uuid.UUID `json:"book_id,omitempty"`
	TransactionID uuid.UUID `json:"transaction_id,omitempty"`
	Reason        string    `json:"reason"`
}

// OpenLoans counts open transactions per book.
func OpenLoans(txns []domain.Transaction) map[uuid.UUID]int {
	open := make(map[uuid.UUID]int)
	for _, t := range txns {
		if t.IsOpen() {
			open[t.BookID]++
		}
	}
	return open
}

// Audit checks every book against the transaction log and every transaction
// against its own fine rule. Open transactions for unknown books are reported too.
func Audit(books []domain.Book, txns []domain.Transaction) []Violation {
	var violations []Violation

	open := OpenLoans(txns)
	known := make(map[uuid.UUID]bool, len(books))
	for _, b := range books {
		known[b.ID] = true
		if err := CheckLoans(b, open[b.ID]); err != nil {
			violations = append(violations, Violation{BookID: b.ID, Reason: err.Error()})
		}
	}

	for _, t := range txns {
		if err := t.Validate(); err != nil {
			violations = append(violations, Violation{BookID: t.BookID, TransactionID: t.ID, Reason: err.Error()})
		}
		if t.IsOpen() && !known[t.BookID] {
			violations = append(violations, Violation{
				BookID:        t.BookID,
				TransactionID: t.ID,
				Reason:        "open transaction references a missing book",
			})
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].BookID.String() < violations[j].BookID.String()
	})
	return violations
}
