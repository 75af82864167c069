package grpc

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"library-circulation/internal/domain"
	"library-circulation/internal/reports"
	"library-circulation/internal/service"
)

// Client calls the circulation service. Errors come back wrapping the domain
// errors, so errors.Is(err, domain.ErrUnavailable) works across the wire.
type Client struct {
	conn  grpc.ClientConnInterface
	token string
}

type ClientOption func(*Client)

// WithToken sends token as the bearer credential on every call.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func NewClient(conn grpc.ClientConnInterface, opts ...ClientOption) *Client {
	c := &Client{conn: conn}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	err := c.conn.Invoke(c.outgoing(ctx), method, req, resp, grpc.CallContentSubtype(CodecName))
	return FromStatus(err)
}

func (c *Client) ListBooks(ctx context.Context) ([]domain.Book, error) {
	var resp ListBooksResponse
	if err := c.invoke(ctx, MethodListBooks, &ListBooksRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Books, nil
}

func (c *Client) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	var resp BookResponse
	if err := c.invoke(ctx, MethodGetBook, &GetBookRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return resp.Book, nil
}

func (c *Client) CreateBook(ctx context.Context, in service.BookInput) (*domain.Book, error) {
	var resp BookResponse
	if err := c.invoke(ctx, MethodCreateBook, &CreateBookRequest{BookInput: in}, &resp); err != nil {
		return nil, err
	}
	return resp.Book, nil
}

func (c *Client) UpdateBook(ctx context.Context, id uuid.UUID, in service.BookInput) (*domain.Book, error) {
	var resp BookResponse
	if err := c.invoke(ctx, MethodUpdateBook, &UpdateBookRequest{ID: id, BookInput: in}, &resp); err != nil {
		return nil, err
	}
	return resp.Book, nil
}

func (c *Client) DeleteBook(ctx context.Context, id uuid.UUID) error {
	return c.invoke(ctx, MethodDeleteBook, &DeleteBookRequest{ID: id}, &DeleteBookResponse{})
}

func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	var resp ListUsersResponse
	if err := c.invoke(ctx, MethodListUsers, &ListUsersRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var resp UserResponse
	if err := c.invoke(ctx, MethodGetUser, &GetUserRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (c *Client) CreateUser(ctx context.Context, in service.UserInput) (*domain.User, error) {
	var resp UserResponse
	if err := c.invoke(ctx, MethodCreateUser, &CreateUserRequest{UserInput: in}, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (c *Client) Borrow(ctx context.Context, userID, bookID uuid.UUID) (*domain.Transaction, error) {
	var resp TransactionResponse
	if err := c.invoke(ctx, MethodBorrow, &BorrowRequest{UserID: userID, BookID: bookID}, &resp); err != nil {
		return nil, err
	}
	return resp.Transaction, nil
}

func (c *Client) Return(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	var resp TransactionResponse
	if err := c.invoke(ctx, MethodReturn, &ReturnRequest{TransactionID: transactionID}, &resp); err != nil {
		return nil, err
	}
	return resp.Transaction, nil
}

func (c *Client) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var resp TransactionResponse
	if err := c.invoke(ctx, MethodGetTransaction, &GetTransactionRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return resp.Transaction, nil
}

func (c *Client) ListTransactions(ctx context.Context, openOnly bool) ([]domain.Transaction, error) {
	var resp ListTransactionsResponse
	if err := c.invoke(ctx, MethodListTransactions, &ListTransactionsRequest{OpenOnly: openOnly}, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

func (c *Client) GetReports(ctx context.Context) (*reports.Report, error) {
	var resp ReportsResponse
	if err := c.invoke(ctx, MethodGetReports, &GetReportsRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Report, nil
}

// SnapshotReceiver is the client side of a Subscribe call.
type SnapshotReceiver struct {
	stream grpc.ClientStream
}

// Recv blocks until the next snapshot arrives.
func (r *SnapshotReceiver) Recv() (*SnapshotMessage, error) {
	m := new(SnapshotMessage)
	if err := r.stream.RecvMsg(m); err != nil {
		return nil, FromStatus(err)
	}
	return m, nil
}

// Subscribe opens a change feed for collection. Cancel ctx to stop it.
func (c *Client) Subscribe(ctx context.Context, collection domain.Collection) (*SnapshotReceiver, error) {
	stream, err := c.conn.NewStream(c.outgoing(ctx), &CirculationServiceDesc.Streams[0], MethodSubscribe, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, FromStatus(err)
	}
	// io.EOF means the server already ended the call; Recv reports its status.
	if err := stream.SendMsg(&SubscribeRequest{Collection: collection}); err != nil && !errors.Is(err, io.EOF) {
		return nil, FromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, FromStatus(err)
	}
	return &SnapshotReceiver{stream: stream}, nil
}
