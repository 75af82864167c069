package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"library-circulation/internal/domain"
	"library-circulation/internal/inventory"
	"library-circulation/internal/repository"
)

type bookRepository struct {
	s *state
}

func (r *bookRepository) Create(ctx context.Context, b *domain.Book) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := inventory.CheckLoans(*b, 0); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if _, exists := r.s.books[b.ID]; exists {
		return fmt.Errorf("%w: book %s already exists", domain.ErrInvalidInput, b.ID)
	}
	now := time.Now().UTC()
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	r.s.books[b.ID] = *b
	return nil
}

func (r *bookRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	b, ok := r.s.books[id]
	if !ok {
		return nil, fmt.Errorf("%w: book %s", domain.ErrNotFound, id)
	}
	return &b, nil
}

func (r *bookRepository) List(ctx context.Context) ([]domain.Book, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	books := make([]domain.Book, 0, len(r.s.books))
	for _, b := range r.s.books {
		books = append(books, b)
	}
	r.s.mu.RUnlock()

	sortBooks(books)
	return books, nil
}

func sortBooks(books []domain.Book) {
	sort.Slice(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ID.String() < books[j].ID.String()
	})
}

func (r *bookRepository) Update(ctx context.Context, b *domain.Book, expectedVersion int64) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.books[b.ID]
	if !ok {
		return fmt.Errorf("%w: book %s", domain.ErrNotFound, b.ID)
	}
	if stored.Version != expectedVersion {
		return repository.ErrConcurrencyConflict
	}
	if err := inventory.CheckLoans(*b, r.s.openLoansLocked(b.ID)); err != nil {
		return err
	}

	b.Version = stored.Version + 1
	b.CreatedAt = stored.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	r.s.books[b.ID] = *b
	return nil
}

func (r *bookRepository) Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.books[id]
	if !ok {
		return fmt.Errorf("%w: book %s", domain.ErrNotFound, id)
	}
	if stored.Version != expectedVersion {
		return repository.ErrConcurrencyConflict
	}
	if open := r.s.openLoansLocked(id); open > 0 {
		return fmt.Errorf("%w: book %s has %d copies on loan", domain.ErrInvalidInput, id, open)
	}
	delete(r.s.books, id)
	delete(r.s.openLoans, id)
	return nil
}
