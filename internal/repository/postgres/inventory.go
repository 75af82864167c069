package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"library-circulation/internal/domain"
	"library-circulation/internal/logger"
)

var snapshotTxOptions = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

type inventoryReader struct {
	c *conn
}

// InventorySnapshot reads both tables inside one read-only REPEATABLE READ
// transaction on the primary, so both selects see the same commits.
func (r *inventoryReader) InventorySnapshot(ctx context.Context) ([]domain.Book, []domain.Transaction, error) {
	books := []domain.Book{}
	txns := []domain.Transaction{}
	err := r.c.inTxWith(ctx, snapshotTxOptions, func(tx *sqlx.Tx) error {
		booksDs := dialect.From(tableBooks).Select(bookColumns...).Order(goqu.C("title").Asc(), goqu.C("id").Asc())
		if err := selectInTx(ctx, tx, &books, booksDs); err != nil {
			return fmt.Errorf("list books: %w", err)
		}
		txnsDs := dialect.From(tableTransactions).Select(transactionColumns...).Order(goqu.C("borrow_date").Asc(), goqu.C("id").Asc())
		if err := selectInTx(ctx, tx, &txns, txnsDs); err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		return nil
	})
	logger.DatabaseResult("inventory.snapshot", int64(len(books)+len(txns)), err)
	if err != nil {
		return nil, nil, err
	}
	return books, txns, nil
}

func selectInTx(ctx context.Context, tx *sqlx.Tx, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	logger.DatabaseCall("select", query)
	return tx.SelectContext(ctx, dest, query, args...)
}
