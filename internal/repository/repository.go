package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"library-circulation/internal/domain"
)

// ErrConcurrencyConflict is returned when a conditional write found the record changed
// since it was read. Callers re-read and retry.
var ErrConcurrencyConflict = errors.New("concurrency conflict, no rows were affected")

type BookRepository interface {
	Create(ctx context.Context, book *domain.Book) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Book, error)
	List(ctx context.Context) ([]domain.Book, error)
	// Update writes book only if the stored version still equals expectedVersion.
	// On success book.Version holds the new version.
	Update(ctx context.Context, book *domain.Book, expectedVersion int64) error
	Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	SetDefaulter(ctx context.Context, id uuid.UUID, isDefaulter bool) error
}

type TransactionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	List(ctx context.Context) ([]domain.Transaction, error)
	ListOpen(ctx context.Context) ([]domain.Transaction, error)
}

// CirculationRepository applies the two multi-record units of work atomically.
type CirculationRepository interface {
	// CommitBorrow takes one copy of txn.BookID and inserts the open transaction.
	// Fails with domain.ErrUnavailable when no copy is left at commit time. Stores that
	// lock the book row decide on the locked counters; the others compare
	// expectedBookVersion and fail with ErrConcurrencyConflict when it moved.
	CommitBorrow(ctx context.Context, txn *domain.Transaction, expectedBookVersion int64) error
	// CommitReturn closes txn with its ReturnDate and FineAmount and puts the copy back.
	// Fails with ErrConcurrencyConflict if the transaction is no longer open.
	CommitReturn(ctx context.Context, txn *domain.Transaction) error
}

// InventoryReader reads books and transactions from one consistent point in time,
// so counters and open loans can be cross-checked without a commit landing between them.
type InventoryReader interface {
	InventorySnapshot(ctx context.Context) ([]domain.Book, []domain.Transaction, error)
}
