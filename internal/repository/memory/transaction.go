package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"library-circulation/internal/domain"
	"library-circulation/internal/inventory"
	"library-circulation/internal/repository"
)

type transactionRepository struct {
	s *state
}

func (r *transactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.txns[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
	}
	return &t, nil
}

func (r *transactionRepository) List(ctx context.Context) ([]domain.Transaction, error) {
	return r.list(ctx, func(domain.Transaction) bool { return true })
}

func (r *transactionRepository) ListOpen(ctx context.Context) ([]domain.Transaction, error) {
	return r.list(ctx, domain.Transaction.IsOpen)
}

func (r *transactionRepository) list(ctx context.Context, keep func(domain.Transaction) bool) ([]domain.Transaction, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	txns := make([]domain.Transaction, 0, len(r.s.txns))
	for _, t := range r.s.txns {
		if keep(t) {
			txns = append(txns, t)
		}
	}
	r.s.mu.RUnlock()

	sortTransactions(txns)
	return txns, nil
}

func sortTransactions(txns []domain.Transaction) {
	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].BorrowDate.Equal(txns[j].BorrowDate) {
			return txns[i].BorrowDate.Before(txns[j].BorrowDate)
		}
		return txns[i].ID.String() < txns[j].ID.String()
	})
}

type circulationRepository struct {
	s *state
}

func (r *circulationRepository) CommitBorrow(ctx context.Context, txn *domain.Transaction, expectedBookVersion int64) error {
	if err := txn.Validate(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// checked under the lock so an abandoned call never commits
	if err := checkContext(ctx); err != nil {
		return err
	}
	book, ok := r.s.books[txn.BookID]
	if !ok {
		return fmt.Errorf("%w: book %s", domain.ErrNotFound, txn.BookID)
	}
	if book.Version != expectedBookVersion {
		return repository.ErrConcurrencyConflict
	}
	if _, exists := r.s.txns[txn.ID]; exists {
		return fmt.Errorf("%w: transaction %s already exists", domain.ErrInvalidInput, txn.ID)
	}
	if err := inventory.ReserveCopy(&book); err != nil {
		return err
	}
	if err := inventory.CheckLoans(book, r.s.openLoansLocked(book.ID)+1); err != nil {
		return err
	}

	book.Version++
	book.UpdatedAt = txn.BorrowDate
	r.s.books[book.ID] = book
	r.s.txns[txn.ID] = *txn
	r.s.addOpenLoanLocked(book.ID, 1)
	return nil
}

func (r *circulationRepository) CommitReturn(ctx context.Context, txn *domain.Transaction) error {
	if txn.IsOpen() {
		return fmt.Errorf("%w: return date missing", domain.ErrInvalidInput)
	}
	if err := txn.Validate(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := checkContext(ctx); err != nil {
		return err
	}
	stored, ok := r.s.txns[txn.ID]
	if !ok {
		return fmt.Errorf("%w: transaction %s", domain.ErrNotFound, txn.ID)
	}
	if !stored.IsOpen() {
		return repository.ErrConcurrencyConflict
	}
	book, ok := r.s.books[stored.BookID]
	if !ok {
		return fmt.Errorf("%w: book %s of transaction %s", domain.ErrNotFound, stored.BookID, txn.ID)
	}
	if err := inventory.ReleaseCopy(&book); err != nil {
		return err
	}
	if err := inventory.CheckLoans(book, r.s.openLoansLocked(book.ID)-1); err != nil {
		return err
	}

	closed := stored
	closed.ReturnDate = txn.ReturnDate
	closed.FineAmount = txn.FineAmount

	book.Version++
	book.UpdatedAt = *txn.ReturnDate
	r.s.books[book.ID] = book
	r.s.txns[closed.ID] = closed
	r.s.addOpenLoanLocked(book.ID, -1)
	*txn = closed
	return nil
}
