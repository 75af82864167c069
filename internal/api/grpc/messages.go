package grpc

import (
	"github.com/google/uuid"

	"library-circulation/internal/domain"
	"library-circulation/internal/notify"
	"library-circulation/internal/reports"
	"library-circulation/internal/service"
)

type ListBooksRequest struct{}

type ListBooksResponse struct {
	Books []domain.Book `json:"books"`
}

type GetBookRequest struct {
	ID uuid.UUID `json:"id"`
}

type BookResponse struct {
	Book *domain.Book `json:"book"`
}

type CreateBookRequest struct {
	service.BookInput
}

type UpdateBookRequest struct {
	ID uuid.UUID `json:"id"`
	service.BookInput
}

type DeleteBookRequest struct {
	ID uuid.UUID `json:"id"`
}

type DeleteBookResponse struct{}

type ListUsersRequest struct{}

type ListUsersResponse struct {
	Users []domain.User `json:"users"`
}

type GetUserRequest struct {
	ID uuid.UUID `json:"id"`
}

type UserResponse struct {
	User *domain.User `json:"user"`
}

type CreateUserRequest struct {
	service.UserInput
}

type BorrowRequest struct {
	UserID uuid.UUID `json:"user_id"`
	BookID uuid.UUID `json:"book_id"`
}

type ReturnRequest struct {
	TransactionID uuid.UUID `json:"transaction_id"`
}

type GetTransactionRequest struct {
	ID uuid.UUID `json:"id"`
}

type TransactionResponse struct {
	Transaction *domain.Transaction `json:"transaction"`
}

type ListTransactionsRequest struct {
	// OpenOnly restricts the list to loans not yet returned.
	OpenOnly bool `json:"open_only,omitempty"`
}

type ListTransactionsResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
}

type GetReportsRequest struct{}

type ReportsResponse struct {
	Report *reports.Report `json:"report"`
}

type SubscribeRequest struct {
	Collection domain.Collection `json:"collection"`
}

// SnapshotMessage is one element of a Subscribe stream.
type SnapshotMessage = notify.Snapshot
