package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"library-circulation/internal/domain"
	"library-circulation/internal/repository"
)

var bookRowColumns = []string{"id", "title", "author", "publisher", "category", "total_copies", "available_copies", "version", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "postgres"), nil), mock
}

func lockedBookRows(id uuid.UUID, total, available int, version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "total_copies", "available_copies", "version"}).
		AddRow(id.String(), total, available, version)
}

func TestBookRepository_GetByID(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	id := uuid.New()

	t.Run("Success", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`SELECT (.+) FROM "books" WHERE \("id" = \$1\)`).
			WithArgs(id.String()).
			WillReturnRows(sqlmock.NewRows(bookRowColumns).AddRow(id.String(), "Dune", "Frank Herbert", "Chilton", "SF", 3, 2, 4, now, now))

		b, err := store.BookRepository.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, b.ID)
		assert.Equal(t, 2, b.AvailableCopies)
		assert.Equal(t, int64(4), b.Version)
	})

	t.Run("Not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM "books"`).
			WithArgs(id.String()).
			WillReturnRows(sqlmock.NewRows(bookRowColumns))

		_, err := store.BookRepository.GetByID(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepository_Create(t *testing.T) {
	store, mock := newMockStore(t)
	book := &domain.Book{Title: "Dune", Author: "Frank Herbert", TotalCopies: 2, AvailableCopies: 2}

	mock.ExpectExec("INSERT INTO books").
		WithArgs(sqlmock.AnyArg(), "Dune", "Frank Herbert", "", "", 2, 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.BookRepository.Create(context.Background(), book)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, book.ID)
	assert.Equal(t, int64(1), book.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRepository_Update(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("Success", func(t *testing.T) {
		store, mock := newMockStore(t)
		book := &domain.Book{ID: id, Title: "Dune", Author: "Frank Herbert", TotalCopies: 4, AvailableCopies: 3, Version: 2}

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM books WHERE id = \$1 FOR UPDATE`).WithArgs(id).WillReturnRows(lockedBookRows(id, 2, 1, 2))
		mock.ExpectQuery(`SELECT count\(\*\) FROM transactions`).WithArgs(id).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectExec("UPDATE books SET title").
			WithArgs("Dune", "Frank Herbert", "", "", 4, 3, int64(3), sqlmock.AnyArg(), id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.BookRepository.Update(ctx, book, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), book.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Version moved", func(t *testing.T) {
		store, mock := newMockStore(t)
		book := &domain.Book{ID: id, Title: "Dune", Author: "Frank Herbert", TotalCopies: 2, AvailableCopies: 2, Version: 2}

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM books WHERE id = \$1 FOR UPDATE`).WithArgs(id).WillReturnRows(lockedBookRows(id, 2, 1, 3))
		mock.ExpectRollback()

		err := store.BookRepository.Update(ctx, book, 2)
		assert.ErrorIs(t, err, repository.ErrConcurrencyConflict)
		assert.Equal(t, int64(2), book.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Counters disagree with open loans", func(t *testing.T) {
		store, mock := newMockStore(t)
		book := &domain.Book{ID: id, Title: "Dune", Author: "Frank Herbert", TotalCopies: 2, AvailableCopies: 2, Version: 2}

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM books WHERE id = \$1 FOR UPDATE`).WithArgs(id).WillReturnRows(lockedBookRows(id, 2, 1, 2))
		mock.ExpectQuery(`SELECT count\(\*\) FROM transactions`).WithArgs(id).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		err := store.BookRepository.Update(ctx, book, 2)
		assert.ErrorIs(t, err, domain.ErrInvariantViolation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookRepository_Delete(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("Refused with copies on loan", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM books WHERE id = \$1 FOR UPDATE`).WithArgs(id).WillReturnRows(lockedBookRows(id, 2, 1, 5))
		mock.ExpectQuery(`SELECT count\(\*\) FROM transactions`).WithArgs(id).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		err := store.BookRepository.Delete(ctx, id, 5)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM books WHERE id = \$1 FOR UPDATE`).WithArgs(id).WillReturnRows(lockedBookRows(id, 2, 2, 5))
		mock.ExpectQuery(`SELECT count\(\*\) FROM transactions`).WithArgs(id).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(`DELETE FROM books WHERE id = \$1`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.BookRepository.Delete(ctx, id, 5))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing book", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM books WHERE id = \$1 FOR UPDATE`).WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"id", "total_copies", "available_copies", "version"}))
		mock.ExpectRollback()

		err := store.BookRepository.Delete(ctx, id, 5)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestUserRepository_SetDefaulter(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectExec(`UPDATE users SET is_defaulter = \$1 WHERE id = \$2`).WithArgs(true, id).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.UserRepository.SetDefaulter(ctx, id, true))

	mock.ExpectExec(`UPDATE users SET is_defaulter`).WithArgs(false, id).WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.UserRepository.SetDefaulter(ctx, id, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_List(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM "users" ORDER BY "name" ASC, "id" ASC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "role", "is_defaulter", "created_at"}).
			AddRow(uuid.NewString(), "Ada", "Student", true, now).
			AddRow(uuid.NewString(), "Grace", "Staff", false, now))

	users, err := store.UserRepository.List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, domain.RoleStudent, users[0].Role)
	assert.True(t, users[0].IsDefaulter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_ListOpen(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM "transactions" WHERE \("return_date" IS NULL\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "user_id", "borrow_date", "due_date", "return_date", "fine_amount"}).
			AddRow(uuid.NewString(), uuid.NewString(), uuid.NewString(), now, now.Add(7*24*time.Hour), nil, "0.00"))

	txns, err := store.TransactionRepository.ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.True(t, txns[0].IsOpen())
	assert.True(t, txns[0].FineAmount.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCirculationRepository_CommitBorrow(t *testing.T) {
	ctx := context.Background()
	bookID := uuid.New()
	now := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	txn := &domain.Transaction{ID: uuid.New(), BookID: bookID, UserID: uuid.New(), BorrowDate: now, DueDate: now.Add(7 * 24 * time.Hour)}

	t.Run("Success", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM books WHERE id = \$1 FOR UPDATE`).WithArgs(bookID).WillReturnRows(lockedBookRows(bookID, 2, 2, 7))
		mock.ExpectQuery(`SELECT count\(\*\) FROM transactions`).WithArgs(bookID).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(`UPDATE books SET available_copies`).WithArgs(1, int64(8), now, bookID).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO transactions`).
			WithArgs(txn.ID, bookID, txn.UserID, now, txn.DueDate, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.CirculationRepository.CommitBorrow(ctx, txn, 7))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Version moved while queued on the lock", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM books WHERE id = \$1 FOR UPDATE`).WithArgs(bookID).WillReturnRows(lockedBookRows(bookID, 2, 1, 8))
		mock.ExpectQuery(`SELECT count\(\*\) FROM transactions`).WithArgs(bookID).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectExec(`UPDATE books SET available_copies`).WithArgs(0, int64(9), now, bookID).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO transactions`).
			WithArgs(txn.ID, bookID, txn.UserID, now, txn.DueDate, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.CirculationRepository.CommitBorrow(ctx, txn, 7))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Version moved and the last copy is gone", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM books WHERE id = \$1 FOR UPDATE`).WithArgs(bookID).WillReturnRows(lockedBookRows(bookID, 2, 0, 9))
		mock.ExpectQuery(`SELECT count\(\*\) FROM transactions`).WithArgs(bookID).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectRollback()

		err := store.CirculationRepository.CommitBorrow(ctx, txn, 7)
		assert.ErrorIs(t, err, domain.ErrUnavailable)
		assert.NotErrorIs(t, err, repository.ErrConcurrencyConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("No copies left", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM books WHERE id = \$1 FOR UPDATE`).WithArgs(bookID).WillReturnRows(lockedBookRows(bookID, 2, 0, 7))
		mock.ExpectQuery(`SELECT count\(\*\) FROM transactions`).WithArgs(bookID).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectRollback()

		err := store.CirculationRepository.CommitBorrow(ctx, txn, 7)
		assert.ErrorIs(t, err, domain.ErrUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Serialization failure is a conflict", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM books WHERE id = \$1 FOR UPDATE`).WithArgs(bookID).
			WillReturnError(&pq.Error{Code: pq.ErrorCode(pgerrcode.SerializationFailure)})
		mock.ExpectRollback()

		err := store.CirculationRepository.CommitBorrow(ctx, txn, 7)
		assert.ErrorIs(t, err, repository.ErrConcurrencyConflict)
	})
}

func TestCirculationRepository_CommitReturn(t *testing.T) {
	ctx := context.Background()
	bookID := uuid.New()
	borrowed := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	due := borrowed.Add(7 * 24 * time.Hour)
	returned := due.Add(48 * time.Hour)
	txnID := uuid.New()
	userID := uuid.New()
	txnColumns := []string{"id", "book_id", "user_id", "borrow_date", "due_date", "return_date", "fine_amount"}

	t.Run("Success", func(t *testing.T) {
		store, mock := newMockStore(t)
		txn := &domain.Transaction{ID: txnID, ReturnDate: &returned, FineAmount: decimal.RequireFromString("1.00")}

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM transactions WHERE id = \$1 FOR UPDATE`).WithArgs(txnID).
			WillReturnRows(sqlmock.NewRows(txnColumns).AddRow(txnID.String(), bookID.String(), userID.String(), borrowed, due, nil, "0"))
		mock.ExpectQuery(`FROM books WHERE id = \$1 FOR UPDATE`).WithArgs(bookID).WillReturnRows(lockedBookRows(bookID, 1, 0, 3))
		mock.ExpectQuery(`SELECT count\(\*\) FROM transactions`).WithArgs(bookID).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectExec(`UPDATE transactions SET return_date`).WithArgs(returned, sqlmock.AnyArg(), txnID).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE books SET available_copies`).WithArgs(1, int64(4), returned, bookID).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.CirculationRepository.CommitReturn(ctx, txn))
		assert.Equal(t, bookID, txn.BookID)
		assert.Equal(t, userID, txn.UserID)
		assert.Equal(t, "1", txn.FineAmount.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Already closed", func(t *testing.T) {
		store, mock := newMockStore(t)
		txn := &domain.Transaction{ID: txnID, ReturnDate: &returned}

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM transactions WHERE id = \$1 FOR UPDATE`).WithArgs(txnID).
			WillReturnRows(sqlmock.NewRows(txnColumns).AddRow(txnID.String(), bookID.String(), userID.String(), borrowed, due, returned, "1.00"))
		mock.ExpectRollback()

		err := store.CirculationRepository.CommitReturn(ctx, txn)
		assert.ErrorIs(t, err, repository.ErrConcurrencyConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing return date", func(t *testing.T) {
		store, _ := newMockStore(t)
		err := store.CirculationRepository.CommitReturn(ctx, &domain.Transaction{ID: txnID})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestInventoryReader_Snapshot(t *testing.T) {
	ctx := context.Background()
	bookID := uuid.New()
	now := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	txnColumns := []string{"id", "book_id", "user_id", "borrow_date", "due_date", "return_date", "fine_amount"}

	t.Run("Both tables in one transaction", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM "books" ORDER BY "title" ASC, "id" ASC`).
			WillReturnRows(sqlmock.NewRows(bookRowColumns).AddRow(bookID.String(), "Dune", "Frank Herbert", "Chilton", "SF", 2, 1, 3, now, now))
		mock.ExpectQuery(`SELECT (.+) FROM "transactions" ORDER BY "borrow_date" ASC, "id" ASC`).
			WillReturnRows(sqlmock.NewRows(txnColumns).
				AddRow(uuid.NewString(), bookID.String(), uuid.NewString(), now, now.Add(7*24*time.Hour), nil, "0"))
		mock.ExpectCommit()

		books, txns, err := store.InventorySnapshot(ctx)
		require.NoError(t, err)
		require.Len(t, books, 1)
		require.Len(t, txns, 1)
		assert.Equal(t, 1, books[0].AvailableCopies)
		assert.True(t, txns[0].IsOpen())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failed select rolls back", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM "books"`).WillReturnRows(sqlmock.NewRows(bookRowColumns))
		mock.ExpectQuery(`FROM "transactions"`).WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, _, err := store.InventorySnapshot(ctx)
		assert.ErrorContains(t, err, "list transactions")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_ReplicaRouting(t *testing.T) {
	primaryDB, primary, err := sqlmock.New()
	require.NoError(t, err)
	defer primaryDB.Close()
	replicaDB, replica, err := sqlmock.New()
	require.NoError(t, err)
	defer replicaDB.Close()

	store := NewStore(sqlx.NewDb(primaryDB, "postgres"), sqlx.NewDb(replicaDB, "postgres"))
	empty := sqlmock.NewRows(bookRowColumns)

	replica.ExpectQuery(`FROM "books"`).WillReturnRows(empty)
	_, err = store.BookRepository.List(repository.WithEventualConsistency(context.Background()))
	require.NoError(t, err)

	primary.ExpectQuery(`FROM "books"`).WillReturnRows(sqlmock.NewRows(bookRowColumns))
	_, err = store.BookRepository.List(repository.WithStrongConsistency(context.Background()))
	require.NoError(t, err)

	assert.NoError(t, primary.ExpectationsWereMet())
	assert.NoError(t, replica.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"pq serialization failure", &pq.Error{Code: pq.ErrorCode(pgerrcode.SerializationFailure)}, repository.ErrConcurrencyConflict},
		{"pgx deadlock", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, repository.ErrConcurrencyConflict},
		{"unique violation", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, domain.ErrInvalidInput},
		{"check violation", fmt.Errorf("exec: %w", &pq.Error{Code: pq.ErrorCode(pgerrcode.CheckViolation)}), domain.ErrInvariantViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	plain := errors.New("connection reset")
	assert.Equal(t, plain, classify(plain))
	assert.NoError(t, classify(nil))
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, collections ...domain.Collection) error {
	args := m.Called(ctx, collections)
	return args.Error(0)
}

func TestListener_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("Named collection", func(t *testing.T) {
		pub := new(mockPublisher)
		pub.On("Publish", ctx, []domain.Collection{domain.CollectionBooks}).Return(nil)
		NewListener("", "", pub).handle(ctx, &pq.Notification{Channel: DefaultNotifyChannel, Extra: "books"})
		pub.AssertExpectations(t)
	})

	t.Run("Reconnect publishes everything", func(t *testing.T) {
		pub := new(mockPublisher)
		pub.On("Publish", ctx, domain.Collections).Return(nil)
		NewListener("", "", pub).handle(ctx, nil)
		pub.AssertExpectations(t)
	})

	t.Run("Unknown payload is ignored", func(t *testing.T) {
		pub := new(mockPublisher)
		NewListener("", "", pub).handle(ctx, &pq.Notification{Extra: "loans"})
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	for range schemaStatements {
		mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(`pg_notify\('circulation_changes', TG_TABLE_NAME\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	for range notifyStatements("x")[1:] {
		mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	require.NoError(t, EnsureSchema(context.Background(), sqlx.NewDb(db, "postgres"), ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}
