package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation/internal/domain"
	"library-circulation/internal/service"
)

func intPtr(v int) *int { return &v }

func TestBookService_CreateBook(t *testing.T) {
	f := newCirculationFixture(t, nil)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		b, err := f.books.CreateBook(ctx, service.BookInput{
			Title: "  Emma ", Author: "Jane Austen", Publisher: "John Murray", Category: "Classic", TotalCopies: 4,
		})
		require.NoError(t, err)
		assert.Equal(t, "Emma", b.Title)
		assert.Equal(t, 4, b.AvailableCopies)
		assert.Equal(t, int64(1), b.Version)
	})

	tests := []struct {
		name  string
		input service.BookInput
	}{
		{"Missing title", service.BookInput{Author: "A", TotalCopies: 1}},
		{"Missing author", service.BookInput{Title: "T", TotalCopies: 1}},
		{"Zero copies", service.BookInput{Title: "T", Author: "A"}},
		{"Negative available", service.BookInput{Title: "T", Author: "A", TotalCopies: 1, AvailableCopies: intPtr(-1)}},
		{"Available above total", service.BookInput{Title: "T", Author: "A", TotalCopies: 2, AvailableCopies: intPtr(3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.books.CreateBook(ctx, tt.input)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestBookService_UpdateBook(t *testing.T) {
	f := newCirculationFixture(t, nil)
	ctx := context.Background()
	book := f.book(t, 3)
	reader := f.user(t, "reader")
	_, err := f.svc.Borrow(ctx, reader.ID, book.ID)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, reader.ID, book.ID)
	require.NoError(t, err)

	t.Run("Grow keeps loans", func(t *testing.T) {
		updated, err := f.books.UpdateBook(ctx, book.ID, service.BookInput{Title: "Dune", Author: "Frank Herbert", TotalCopies: 5})
		require.NoError(t, err)
		assert.Equal(t, 5, updated.TotalCopies)
		assert.Equal(t, 3, updated.AvailableCopies)
	})

	t.Run("Shrink to copies on loan", func(t *testing.T) {
		updated, err := f.books.UpdateBook(ctx, book.ID, service.BookInput{Title: "Dune", Author: "Frank Herbert", TotalCopies: 2})
		require.NoError(t, err)
		assert.Equal(t, 0, updated.AvailableCopies)
	})

	t.Run("Shrink below copies on loan", func(t *testing.T) {
		_, err := f.books.UpdateBook(ctx, book.ID, service.BookInput{Title: "Dune", Author: "Frank Herbert", TotalCopies: 1})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("Submitted available above total", func(t *testing.T) {
		_, err := f.books.UpdateBook(ctx, book.ID, service.BookInput{Title: "Dune", Author: "Frank Herbert", TotalCopies: 2, AvailableCopies: intPtr(3)})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("Not found", func(t *testing.T) {
		_, err := f.books.UpdateBook(ctx, uuid.New(), service.BookInput{Title: "Dune", Author: "Frank Herbert", TotalCopies: 2})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestBookService_DeleteBook(t *testing.T) {
	f := newCirculationFixture(t, nil)
	ctx := context.Background()
	book := f.book(t, 1)
	reader := f.user(t, "reader")
	txn, err := f.svc.Borrow(ctx, reader.ID, book.ID)
	require.NoError(t, err)

	err = f.books.DeleteBook(ctx, book.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Return(ctx, txn.ID)
	require.NoError(t, err)
	require.NoError(t, f.books.DeleteBook(ctx, book.ID))

	_, err = f.books.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// the closed loan stays in the log with a dangling reference
	txns, err := f.svc.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestUserService_CreateUser(t *testing.T) {
	f := newCirculationFixture(t, nil)
	ctx := context.Background()

	u, err := f.users.CreateUser(ctx, service.UserInput{Name: " Grace ", Role: domain.RoleStaff})
	require.NoError(t, err)
	assert.Equal(t, "Grace", u.Name)
	assert.False(t, u.IsDefaulter)

	_, err = f.users.CreateUser(ctx, service.UserInput{Name: "Grace", Role: domain.Role("Librarian")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.users.CreateUser(ctx, service.UserInput{Role: domain.RoleStudent})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	users, err := f.users.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
