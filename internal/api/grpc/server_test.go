package grpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	circgrpc "library-circulation/internal/api/grpc"
	"library-circulation/internal/api/grpc/interceptor"
	"library-circulation/internal/domain"
	"library-circulation/internal/fines"
	"library-circulation/internal/notify"
	"library-circulation/internal/repository/memory"
	"library-circulation/internal/security"
	"library-circulation/internal/service"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	conn   *grpc.ClientConn
	store  *memory.Store
	tokens security.TokenManager
}

func startServer(t *testing.T, withAuth bool) *testServer {
	t.Helper()
	store := memory.NewStore()
	hub := notify.NewHub(notify.RepositorySource{
		Books: store.BookRepository, Users: store.UserRepository, Transactions: store.TransactionRepository,
	})
	t.Cleanup(hub.Close)

	books := service.NewBookService(store.BookRepository, hub)
	users := service.NewUserService(store.UserRepository, hub)
	circulation := service.NewCirculationService(
		store.BookRepository, store.UserRepository, store.TransactionRepository, store.CirculationRepository,
		fines.NewCalculator(fines.DefaultRatePerDay), hub, nil,
		service.CirculationSettings{BaseDelay: time.Millisecond},
	)
	reportSvc := service.NewReportService(store.BookRepository, store.UserRepository, store.TransactionRepository, 2, time.UTC)

	tokens := security.NewTokenManager(testSecret, time.Hour)
	var (
		opts        []grpc.ServerOption
		handlerOpts = []circgrpc.HandlerOption{circgrpc.WithOpenLoans(store.TransactionRepository)}
	)
	if withAuth {
		auth := interceptor.NewAuthInterceptor(tokens)
		opts = append(opts, grpc.UnaryInterceptor(auth.Unary()), grpc.StreamInterceptor(auth.Stream()))
		handlerOpts = append(handlerOpts, circgrpc.WithOwnershipChecks())
	}
	handler := circgrpc.NewCirculationHandler(books, users, circulation, reportSvc, hub, handlerOpts...)

	lis := bufconn.Listen(1 << 20)
	srv := circgrpc.NewServer(handler, opts...)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testServer{conn: conn, store: store, tokens: tokens}
}

func (s *testServer) client(t *testing.T, userID uuid.UUID, role domain.Role) *circgrpc.Client {
	t.Helper()
	token, err := s.tokens.GenerateAccessToken(userID, role)
	require.NoError(t, err)
	return circgrpc.NewClient(s.conn, circgrpc.WithToken(token))
}

func TestServer_CirculationOverTheWire(t *testing.T) {
	s := startServer(t, false)
	client := circgrpc.NewClient(s.conn)
	ctx := context.Background()

	book, err := client.CreateBook(ctx, service.BookInput{Title: "Dune", Author: "Frank Herbert", TotalCopies: 1})
	require.NoError(t, err)
	u1, err := client.CreateUser(ctx, service.UserInput{Name: "U1", Role: domain.RoleStudent})
	require.NoError(t, err)
	u2, err := client.CreateUser(ctx, service.UserInput{Name: "U2", Role: domain.RoleStudent})
	require.NoError(t, err)

	txn, err := client.Borrow(ctx, u1.ID, book.ID)
	require.NoError(t, err)
	assert.Equal(t, u1.ID, txn.UserID)
	assert.True(t, txn.IsOpen())

	_, err = client.Borrow(ctx, u2.ID, book.ID)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	open, err := client.ListTransactions(ctx, true)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	closed, err := client.Return(ctx, txn.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())

	_, err = client.Return(ctx, txn.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyReturned)

	_, err = client.GetBook(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = client.CreateBook(ctx, service.BookInput{Title: "", Author: "A", TotalCopies: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	got, err := client.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableCopies)

	report, err := client.GetReports(ctx)
	require.NoError(t, err)
	require.Len(t, report.ByAuthor, 1)
	assert.Equal(t, 1, report.ByAuthor[0].Count)
}

func TestServer_Subscribe(t *testing.T) {
	s := startServer(t, false)
	client := circgrpc.NewClient(s.conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	feed, err := client.Subscribe(ctx, domain.CollectionBooks)
	require.NoError(t, err)

	first, err := feed.Recv()
	require.NoError(t, err)
	assert.Equal(t, domain.CollectionBooks, first.Collection)
	assert.Empty(t, first.Books)

	_, err = client.CreateBook(ctx, service.BookInput{Title: "Emma", Author: "Jane Austen", TotalCopies: 2})
	require.NoError(t, err)

	next, err := feed.Recv()
	require.NoError(t, err)
	assert.Greater(t, next.Version, first.Version)
	require.Len(t, next.Books, 1)
	assert.Equal(t, "Emma", next.Books[0].Title)
}

func TestServer_SubscribeUnknownCollection(t *testing.T) {
	s := startServer(t, false)
	client := circgrpc.NewClient(s.conn)

	feed, err := client.Subscribe(context.Background(), domain.Collection("loans"))
	require.NoError(t, err)
	_, err = feed.Recv()
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestServer_Authorization(t *testing.T) {
	s := startServer(t, true)
	ctx := context.Background()
	staffID := uuid.New()
	staff := s.client(t, staffID, domain.RoleStaff)

	book, err := staff.CreateBook(ctx, service.BookInput{Title: "Dune", Author: "Frank Herbert", TotalCopies: 2})
	require.NoError(t, err)
	alice, err := staff.CreateUser(ctx, service.UserInput{Name: "Alice", Role: domain.RoleStudent})
	require.NoError(t, err)
	bob, err := staff.CreateUser(ctx, service.UserInput{Name: "Bob", Role: domain.RoleStudent})
	require.NoError(t, err)

	t.Run("Missing token", func(t *testing.T) {
		_, err := circgrpc.NewClient(s.conn).ListBooks(ctx)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("Bad token", func(t *testing.T) {
		_, err := circgrpc.NewClient(s.conn, circgrpc.WithToken("garbage")).ListBooks(ctx)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	aliceClient := s.client(t, alice.ID, domain.RoleStudent)

	t.Run("Student cannot manage inventory", func(t *testing.T) {
		_, err := aliceClient.CreateBook(ctx, service.BookInput{Title: "X", Author: "Y", TotalCopies: 1})
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("Student borrows for themselves only", func(t *testing.T) {
		txn, err := aliceClient.Borrow(ctx, alice.ID, book.ID)
		require.NoError(t, err)

		_, err = aliceClient.Borrow(ctx, bob.ID, book.ID)
		assert.Equal(t, codes.PermissionDenied, status.Code(err))

		bobClient := s.client(t, bob.ID, domain.RoleStudent)
		_, err = bobClient.Return(ctx, txn.ID)
		assert.Equal(t, codes.PermissionDenied, status.Code(err))

		_, err = aliceClient.Return(ctx, txn.ID)
		require.NoError(t, err)
	})

	t.Run("Staff acts for anyone", func(t *testing.T) {
		txn, err := staff.Borrow(ctx, bob.ID, book.ID)
		require.NoError(t, err)
		_, err = staff.Return(ctx, txn.ID)
		require.NoError(t, err)
	})

	t.Run("Streams are authenticated", func(t *testing.T) {
		feed, err := circgrpc.NewClient(s.conn).Subscribe(ctx, domain.CollectionBooks)
		require.NoError(t, err)
		_, err = feed.Recv()
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})
}
