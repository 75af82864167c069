package postgres

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"library-circulation/internal/domain"
	"library-circulation/internal/inventory"
	"library-circulation/internal/logger"
	"library-circulation/internal/repository"
)

var transactionColumns = []any{"id", "book_id", "user_id", "borrow_date", "due_date", "return_date", "fine_amount"}

type transactionRepository struct {
	c *conn
}

func (r *transactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var t domain.Transaction
	ds := dialect.From(tableTransactions).Select(transactionColumns...).Where(goqu.C("id").Eq(id.String()))
	if err := r.c.get(ctx, &t, ds); err != nil {
		return nil, notFound(err, "transaction %s", id)
	}
	return &t, nil
}

func (r *transactionRepository) List(ctx context.Context) ([]domain.Transaction, error) {
	return r.list(ctx, dialect.From(tableTransactions))
}

func (r *transactionRepository) ListOpen(ctx context.Context) ([]domain.Transaction, error) {
	return r.list(ctx, dialect.From(tableTransactions).Where(goqu.C("return_date").IsNull()))
}

func (r *transactionRepository) list(ctx context.Context, ds *goqu.SelectDataset) ([]domain.Transaction, error) {
	txns := []domain.Transaction{}
	ds = ds.Select(transactionColumns...).Order(goqu.C("borrow_date").Asc(), goqu.C("id").Asc())
	if err := r.c.selectAll(ctx, &txns, ds); err != nil {
		return nil, err
	}
	return txns, nil
}

type circulationRepository struct {
	c *conn
}

// CommitBorrow decides on the counters of the locked book row. Borrowers queued on
// the row lock see each other's commits there, so a version that moved since
// expectedBookVersion was read is not a conflict.
func (r *circulationRepository) CommitBorrow(ctx context.Context, txn *domain.Transaction, expectedBookVersion int64) error {
	if err := txn.Validate(); err != nil {
		return err
	}

	err := r.c.inTx(ctx, func(tx *sqlx.Tx) error {
		book, err := lockBook(ctx, tx, txn.BookID)
		if err != nil {
			return err
		}
		if book.Version != expectedBookVersion {
			logger.DebugContext(ctx, "Book changed since read", "book_id", book.ID, "read_version", expectedBookVersion, "locked_version", book.Version)
		}
		open, err := countOpenLoans(ctx, tx, book.ID)
		if err != nil {
			return err
		}
		if err := inventory.ReserveCopy(&book); err != nil {
			return err
		}
		if err := inventory.CheckLoans(book, open+1); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE books SET available_copies = $1, version = $2, updated_at = $3 WHERE id = $4`,
			book.AvailableCopies, book.Version+1, txn.BorrowDate, book.ID,
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO transactions (id, book_id, user_id, borrow_date, due_date, return_date, fine_amount)
			 VALUES ($1, $2, $3, $4, $5, NULL, $6)`,
			txn.ID, txn.BookID, txn.UserID, txn.BorrowDate, txn.DueDate, txn.FineAmount,
		)
		return err
	})
	logger.DatabaseResult("circulation.borrow", 1, err, "transaction_id", txn.ID, "book_id", txn.BookID)
	return err
}

func (r *circulationRepository) CommitReturn(ctx context.Context, txn *domain.Transaction) error {
	if txn.IsOpen() {
		return fmt.Errorf("%w: return date missing", domain.ErrInvalidInput)
	}
	if err := txn.Validate(); err != nil {
		return err
	}

	var closed domain.Transaction
	err := r.c.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `SELECT id, book_id, user_id, borrow_date, due_date, return_date, fine_amount
		          FROM transactions WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &closed, query, txn.ID); err != nil {
			return notFound(err, "transaction %s", txn.ID)
		}
		if !closed.IsOpen() {
			return repository.ErrConcurrencyConflict
		}

		book, err := lockBook(ctx, tx, closed.BookID)
		if err != nil {
			return err
		}
		open, err := countOpenLoans(ctx, tx, book.ID)
		if err != nil {
			return err
		}
		if err := inventory.ReleaseCopy(&book); err != nil {
			return err
		}
		if err := inventory.CheckLoans(book, open-1); err != nil {
			return err
		}

		closed.ReturnDate = txn.ReturnDate
		closed.FineAmount = txn.FineAmount
		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions SET return_date = $1, fine_amount = $2 WHERE id = $3 AND return_date IS NULL`,
			closed.ReturnDate, closed.FineAmount, closed.ID,
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE books SET available_copies = $1, version = $2, updated_at = $3 WHERE id = $4`,
			book.AvailableCopies, book.Version+1, *closed.ReturnDate, book.ID,
		)
		return err
	})
	logger.DatabaseResult("circulation.return", 1, err, "transaction_id", txn.ID)
	if err != nil {
		return err
	}
	*txn = closed
	return nil
}
