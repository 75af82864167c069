package memory

import (
	"context"

	"library-circulation/internal/domain"
)

type inventoryReader struct {
	s *state
}

// InventorySnapshot copies books and transactions under one read lock, so no
// commit can land between the two.
func (r *inventoryReader) InventorySnapshot(ctx context.Context) ([]domain.Book, []domain.Transaction, error) {
	if err := checkContext(ctx); err != nil {
		return nil, nil, err
	}
	r.s.mu.RLock()
	books := make([]domain.Book, 0, len(r.s.books))
	for _, b := range r.s.books {
		books = append(books, b)
	}
	txns := make([]domain.Transaction, 0, len(r.s.txns))
	for _, t := range r.s.txns {
		txns = append(txns, t)
	}
	r.s.mu.RUnlock()

	sortBooks(books)
	sortTransactions(txns)
	return books, txns, nil
}
