// Package memory keeps the three collections in process memory behind a single
// RWMutex. Reads hand out copies; writes check versions the same way the SQL
// store does, so callers see the same conflicts against both backends.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"library-circulation/internal/domain"
	"library-circulation/internal/repository"
)

type state struct {
	mu    sync.RWMutex
	books map[uuid.UUID]domain.Book
	users map[uuid.UUID]domain.User
	txns  map[uuid.UUID]domain.Transaction

	// open transactions per book, kept in step with txns
	openLoans map[uuid.UUID]int
}

type Store struct {
	repository.BookRepository
	repository.UserRepository
	repository.TransactionRepository
	repository.CirculationRepository
	repository.InventoryReader
}

func NewStore() *Store {
	s := &state{
		books:     make(map[uuid.UUID]domain.Book),
		users:     make(map[uuid.UUID]domain.User),
		txns:      make(map[uuid.UUID]domain.Transaction),
		openLoans: make(map[uuid.UUID]int),
	}
	return &Store{
		BookRepository:        &bookRepository{s: s},
		UserRepository:        &userRepository{s: s},
		TransactionRepository: &transactionRepository{s: s},
		CirculationRepository: &circulationRepository{s: s},
		InventoryReader:       &inventoryReader{s: s},
	}
}

// openLoansLocked counts open transactions for a book. Caller holds s.mu.
func (s *state) openLoansLocked(bookID uuid.UUID) int {
	return s.openLoans[bookID]
}

// Caller holds s.mu for writing.
func (s *state) addOpenLoanLocked(bookID uuid.UUID, delta int) {
	n := s.openLoans[bookID] + delta
	if n <= 0 {
		delete(s.openLoans, bookID)
		return
	}
	s.openLoans[bookID] = n
}

func checkContext(ctx context.Context) error {
	return ctx.Err()
}
