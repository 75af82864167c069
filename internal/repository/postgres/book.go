package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"library-circulation/internal/domain"
	"library-circulation/internal/inventory"
	"library-circulation/internal/logger"
	"library-circulation/internal/repository"
)

var bookColumns = []any{
	"id", "title", "author", "publisher", "category",
	"total_copies", "available_copies", "version", "created_at", "updated_at",
}

type bookRepository struct {
	c *conn
}

func (r *bookRepository) Create(ctx context.Context, b *domain.Book) error {
	if err := inventory.CheckLoans(*b, 0); err != nil {
		return err
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UTC()

	query := `INSERT INTO books (id, title, author, publisher, category, total_copies, available_copies, version, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8)`
	logger.DatabaseCall("books.create", query, "book_id", b.ID)
	_, err := r.c.primary.ExecContext(ctx, query, b.ID, b.Title, b.Author, b.Publisher, b.Category, b.TotalCopies, b.AvailableCopies, now)
	if err != nil {
		return classify(err)
	}
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

func (r *bookRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	var b domain.Book
	ds := dialect.From(tableBooks).Select(bookColumns...).Where(goqu.C("id").Eq(id.String()))
	if err := r.c.get(ctx, &b, ds); err != nil {
		return nil, notFound(err, "book %s", id)
	}
	return &b, nil
}

func (r *bookRepository) List(ctx context.Context) ([]domain.Book, error) {
	books := []domain.Book{}
	ds := dialect.From(tableBooks).Select(bookColumns...).Order(goqu.C("title").Asc(), goqu.C("id").Asc())
	if err := r.c.selectAll(ctx, &books, ds); err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) Update(ctx context.Context, b *domain.Book, expectedVersion int64) error {
	now := time.Now().UTC()
	err := r.c.inTx(ctx, func(tx *sqlx.Tx) error {
		current, err := lockBook(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return repository.ErrConcurrencyConflict
		}
		open, err := countOpenLoans(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if err := inventory.CheckLoans(*b, open); err != nil {
			return err
		}

		query := `UPDATE books SET title=$1, author=$2, publisher=$3, category=$4, total_copies=$5, available_copies=$6, version=$7, updated_at=$8
		          WHERE id=$9`
		_, err = tx.ExecContext(ctx, query, b.Title, b.Author, b.Publisher, b.Category, b.TotalCopies, b.AvailableCopies, expectedVersion+1, now, b.ID)
		return err
	})
	logger.DatabaseResult("books.update", 1, err, "book_id", b.ID)
	if err != nil {
		return err
	}
	b.Version = expectedVersion + 1
	b.UpdatedAt = now
	return nil
}

func (r *bookRepository) Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	err := r.c.inTx(ctx, func(tx *sqlx.Tx) error {
		current, err := lockBook(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return repository.ErrConcurrencyConflict
		}
		open, err := countOpenLoans(ctx, tx, id)
		if err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: book %s has %d copies on loan", domain.ErrInvalidInput, id, open)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
		return err
	})
	logger.DatabaseResult("books.delete", 1, err, "book_id", id)
	return err
}

// lockBook reads the counters of a book and holds its row lock until the transaction ends.
func lockBook(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (domain.Book, error) {
	var b domain.Book
	query := `SELECT id, total_copies, available_copies, version FROM books WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &b, query, id); err != nil {
		return b, notFound(err, "book %s", id)
	}
	return b, nil
}

func countOpenLoans(ctx context.Context, tx *sqlx.Tx, bookID uuid.UUID) (int, error) {
	var open int
	query := `SELECT count(*) FROM transactions WHERE book_id = $1 AND return_date IS NULL`
	if err := tx.GetContext(ctx, &open, query, bookID); err != nil {
		return 0, err
	}
	return open, nil
}
