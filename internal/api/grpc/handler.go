package grpc

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"library-circulation/internal/domain"
	"library-circulation/internal/logger"
	"library-circulation/internal/service"
)

// CirculationHandler serves the circulation API on top of the service layer.
type CirculationHandler struct {
	books       service.BookService
	users       service.UserService
	circulation service.CirculationService
	reports     service.ReportService
	subscriber  service.SnapshotSubscriber
	openLoans   OpenLoanLister

	enforceOwnership bool
	log              *slog.Logger
}

// OpenLoanLister lists the transactions not yet returned.
type OpenLoanLister interface {
	ListOpen(ctx context.Context) ([]domain.Transaction, error)
}

type HandlerOption func(*CirculationHandler)

// WithOwnershipChecks restricts non-staff callers to their own loans.
// Enabled when the server authenticates requests.
func WithOwnershipChecks() HandlerOption {
	return func(h *CirculationHandler) { h.enforceOwnership = true }
}

// WithOpenLoans serves ListTransactions with open_only set.
func WithOpenLoans(r OpenLoanLister) HandlerOption {
	return func(h *CirculationHandler) { h.openLoans = r }
}

func NewCirculationHandler(
	books service.BookService,
	users service.UserService,
	circulation service.CirculationService,
	reports service.ReportService,
	subscriber service.SnapshotSubscriber,
	opts ...HandlerOption,
) *CirculationHandler {
	h := &CirculationHandler{
		books:       books,
		users:       users,
		circulation: circulation,
		reports:     reports,
		subscriber:  subscriber,
		log:         logger.WithComponent("grpc"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *CirculationHandler) ListBooks(ctx context.Context, _ *ListBooksRequest) (*ListBooksResponse, error) {
	books, err := h.books.ListBooks(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListBooksResponse{Books: books}, nil
}

func (h *CirculationHandler) GetBook(ctx context.Context, req *GetBookRequest) (*BookResponse, error) {
	b, err := h.books.GetBook(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BookResponse{Book: b}, nil
}

func (h *CirculationHandler) CreateBook(ctx context.Context, req *CreateBookRequest) (*BookResponse, error) {
	b, err := h.books.CreateBook(ctx, req.BookInput)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BookResponse{Book: b}, nil
}

func (h *CirculationHandler) UpdateBook(ctx context.Context, req *UpdateBookRequest) (*BookResponse, error) {
	b, err := h.books.UpdateBook(ctx, req.ID, req.BookInput)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BookResponse{Book: b}, nil
}

func (h *CirculationHandler) DeleteBook(ctx context.Context, req *DeleteBookRequest) (*DeleteBookResponse, error) {
	if err := h.books.DeleteBook(ctx, req.ID); err != nil {
		return nil, toStatus(err)
	}
	return &DeleteBookResponse{}, nil
}

func (h *CirculationHandler) ListUsers(ctx context.Context, _ *ListUsersRequest) (*ListUsersResponse, error) {
	users, err := h.users.ListUsers(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListUsersResponse{Users: users}, nil
}

func (h *CirculationHandler) GetUser(ctx context.Context, req *GetUserRequest) (*UserResponse, error) {
	u, err := h.users.GetUser(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &UserResponse{User: u}, nil
}

func (h *CirculationHandler) CreateUser(ctx context.Context, req *CreateUserRequest) (*UserResponse, error) {
	u, err := h.users.CreateUser(ctx, req.UserInput)
	if err != nil {
		return nil, toStatus(err)
	}
	return &UserResponse{User: u}, nil
}

func (h *CirculationHandler) Borrow(ctx context.Context, req *BorrowRequest) (*TransactionResponse, error) {
	if err := h.checkOwner(ctx, req.UserID); err != nil {
		return nil, err
	}
	txn, err := h.circulation.Borrow(ctx, req.UserID, req.BookID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TransactionResponse{Transaction: txn}, nil
}

func (h *CirculationHandler) Return(ctx context.Context, req *ReturnRequest) (*TransactionResponse, error) {
	if h.enforceOwnership {
		txn, err := h.circulation.GetTransaction(ctx, req.TransactionID)
		if err != nil {
			return nil, toStatus(err)
		}
		if err := h.checkOwner(ctx, txn.UserID); err != nil {
			return nil, err
		}
	}
	txn, err := h.circulation.Return(ctx, req.TransactionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TransactionResponse{Transaction: txn}, nil
}

func (h *CirculationHandler) GetTransaction(ctx context.Context, req *GetTransactionRequest) (*TransactionResponse, error) {
	txn, err := h.circulation.GetTransaction(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TransactionResponse{Transaction: txn}, nil
}

func (h *CirculationHandler) ListTransactions(ctx context.Context, req *ListTransactionsRequest) (*ListTransactionsResponse, error) {
	var (
		txns []domain.Transaction
		err  error
	)
	if req.OpenOnly && h.openLoans != nil {
		txns, err = h.openLoans.ListOpen(ctx)
	} else {
		txns, err = h.circulation.ListTransactions(ctx)
		if err == nil && req.OpenOnly {
			txns = openOnly(txns)
		}
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListTransactionsResponse{Transactions: txns}, nil
}

func (h *CirculationHandler) GetReports(ctx context.Context, _ *GetReportsRequest) (*ReportsResponse, error) {
	report, err := h.reports.GetReports(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReportsResponse{Report: report}, nil
}

// Subscribe streams the current snapshot of a collection and then every newer one.
// Intermediate versions may be skipped when the client reads slowly.
func (h *CirculationHandler) Subscribe(req *SubscribeRequest, stream SnapshotStream) error {
	c, err := domain.ParseCollection(string(req.Collection))
	if err != nil {
		return toStatus(err)
	}
	ctx := stream.Context()
	sub, err := h.subscriber.Subscribe(ctx, c)
	if err != nil {
		return toStatus(err)
	}
	defer sub.Close()

	h.log.DebugContext(ctx, "Subscriber attached", "collection", c)
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.C():
			if !ok {
				return status.Error(codes.Unavailable, "change feed closed")
			}
			if err := stream.Send(&snap); err != nil {
				return err
			}
		}
	}
}

func (h *CirculationHandler) checkOwner(ctx context.Context, userID uuid.UUID) error {
	if !h.enforceOwnership {
		return nil
	}
	caller, ok, err := CallerFromContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return status.Error(codes.Unauthenticated, "caller is not authenticated")
	}
	if caller.IsStaff() || caller.UserID == userID {
		return nil
	}
	return status.Error(codes.PermissionDenied, "members may only borrow and return their own loans")
}

func openOnly(txns []domain.Transaction) []domain.Transaction {
	open := make([]domain.Transaction, 0, len(txns))
	for _, t := range txns {
		if t.IsOpen() {
			open = append(open, t)
		}
	}
	return open
}
