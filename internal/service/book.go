package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"library-circulation/internal/domain"
	"library-circulation/internal/inventory"
	"library-circulation/internal/logger"
	"library-circulation/internal/repository"
	"library-circulation/internal/retry"
)

type bookService struct {
	bookRepo  repository.BookRepository
	publisher ChangePublisher
	retryOpts []retry.Option
	log       *slog.Logger
}

func NewBookService(bookRepo repository.BookRepository, publisher ChangePublisher, retryOpts ...retry.Option) BookService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &bookService{
		bookRepo:  bookRepo,
		publisher: publisher,
		retryOpts: retryOpts,
		log:       logger.WithService("book"),
	}
}

func (s *bookService) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return s.bookRepo.List(repository.WithEventualConsistency(ctx))
}

func (s *bookService) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	return s.bookRepo.GetByID(ctx, id)
}

// CreateBook adds a title with every copy on the shelf.
func (s *bookService) CreateBook(ctx context.Context, in BookInput) (*domain.Book, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	book := &domain.Book{
		ID:              uuid.New(),
		Title:           in.Title,
		Author:          in.Author,
		Publisher:       in.Publisher,
		Category:        in.Category,
		TotalCopies:     in.TotalCopies,
		AvailableCopies: in.TotalCopies,
	}
	if err := inventory.Check(*book); err != nil {
		return nil, err
	}
	if err := s.bookRepo.Create(ctx, book); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "Book created", "book_id", book.ID, "total_copies", book.TotalCopies)
	s.publish(ctx, domain.CollectionBooks)
	return book, nil
}

// UpdateBook replaces the descriptive fields and resizes the copy count.
// Copies on loan are preserved, so available copies are derived, never taken from input.
func (s *bookService) UpdateBook(ctx context.Context, id uuid.UUID, in BookInput) (*domain.Book, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	var updated *domain.Book
	_, err := retry.Backoff(ctx, func(ctx context.Context) error {
		book, err := s.bookRepo.GetByID(repository.WithStrongConsistency(ctx), id)
		if err != nil {
			return err
		}
		expected := book.Version

		book.Title = in.Title
		book.Author = in.Author
		book.Publisher = in.Publisher
		book.Category = in.Category
		if err := inventory.Resize(book, in.TotalCopies); err != nil {
			return err
		}
		if err := s.bookRepo.Update(ctx, book, expected); err != nil {
			return err
		}
		updated = book
		return nil
	}, s.retryOpts...)
	if err != nil {
		return nil, conflictOrErr(err, "update book %s", id)
	}

	s.log.InfoContext(ctx, "Book updated", "book_id", id, "total_copies", updated.TotalCopies, "available_copies", updated.AvailableCopies)
	s.publish(ctx, domain.CollectionBooks)
	return updated, nil
}

// DeleteBook removes a title that has no copies on loan.
func (s *bookService) DeleteBook(ctx context.Context, id uuid.UUID) error {
	_, err := retry.Backoff(ctx, func(ctx context.Context) error {
		book, err := s.bookRepo.GetByID(repository.WithStrongConsistency(ctx), id)
		if err != nil {
			return err
		}
		if onLoan := book.OnLoan(); onLoan > 0 {
			return fmt.Errorf("%w: book %s has %d copies on loan", domain.ErrInvalidInput, id, onLoan)
		}
		return s.bookRepo.Delete(ctx, id, book.Version)
	}, s.retryOpts...)
	if err != nil {
		return conflictOrErr(err, "delete book %s", id)
	}

	s.log.InfoContext(ctx, "Book deleted", "book_id", id)
	s.publish(ctx, domain.CollectionBooks)
	return nil
}

func (s *bookService) publish(ctx context.Context, collections ...domain.Collection) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), collections...); err != nil {
		s.log.WarnContext(ctx, "Failed to publish change", "collections", collections, "error", err)
	}
}

// conflictOrErr turns exhausted optimistic retries into ErrConflict.
func conflictOrErr(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrConcurrencyConflict) {
		return fmt.Errorf("%w: %s", domain.ErrConflict, fmt.Sprintf(format, args...))
	}
	return err
}
