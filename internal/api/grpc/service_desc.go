package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName = "library.circulation.v1.CirculationService"

	MethodListBooks        = "/" + ServiceName + "/ListBooks"
	MethodGetBook          = "/" + ServiceName + "/GetBook"
	MethodCreateBook       = "/" + ServiceName + "/CreateBook"
	MethodUpdateBook       = "/" + ServiceName + "/UpdateBook"
	MethodDeleteBook       = "/" + ServiceName + "/DeleteBook"
	MethodListUsers        = "/" + ServiceName + "/ListUsers"
	MethodGetUser          = "/" + ServiceName + "/GetUser"
	MethodCreateUser       = "/" + ServiceName + "/CreateUser"
	MethodBorrow           = "/" + ServiceName + "/Borrow"
	MethodReturn           = "/" + ServiceName + "/Return"
	MethodGetTransaction   = "/" + ServiceName + "/GetTransaction"
	MethodListTransactions = "/" + ServiceName + "/ListTransactions"
	MethodGetReports       = "/" + ServiceName + "/GetReports"
	MethodSubscribe        = "/" + ServiceName + "/Subscribe"
)

// CirculationServer is the server API of the circulation service.
type CirculationServer interface {
	ListBooks(context.Context, *ListBooksRequest) (*ListBooksResponse, error)
	GetBook(context.Context, *GetBookRequest) (*BookResponse, error)
	CreateBook(context.Context, *CreateBookRequest) (*BookResponse, error)
	UpdateBook(context.Context, *UpdateBookRequest) (*BookResponse, error)
	DeleteBook(context.Context, *DeleteBookRequest) (*DeleteBookResponse, error)
	ListUsers(context.Context, *ListUsersRequest) (*ListUsersResponse, error)
	GetUser(context.Context, *GetUserRequest) (*UserResponse, error)
	CreateUser(context.Context, *CreateUserRequest) (*UserResponse, error)
	Borrow(context.Context, *BorrowRequest) (*TransactionResponse, error)
	Return(context.Context, *ReturnRequest) (*TransactionResponse, error)
	GetTransaction(context.Context, *GetTransactionRequest) (*TransactionResponse, error)
	ListTransactions(context.Context, *ListTransactionsRequest) (*ListTransactionsResponse, error)
	GetReports(context.Context, *GetReportsRequest) (*ReportsResponse, error)
	Subscribe(*SubscribeRequest, SnapshotStream) error
}

// SnapshotStream is the server side of a Subscribe call.
type SnapshotStream interface {
	Context() context.Context
	Send(*SnapshotMessage) error
}

type snapshotStream struct {
	grpc.ServerStream
}

func (s snapshotStream) Send(m *SnapshotMessage) error {
	return s.ServerStream.SendMsg(m)
}

func RegisterCirculationServer(s grpc.ServiceRegistrar, srv CirculationServer) {
	s.RegisterService(&CirculationServiceDesc, srv)
}

// unary adapts a typed server method to a grpc.MethodHandler.
func unary[Req, Resp any](fullMethod string, call func(CirculationServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CirculationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CirculationServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CirculationServer).Subscribe(in, snapshotStream{stream})
}

var CirculationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CirculationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListBooks", Handler: unary(MethodListBooks, CirculationServer.ListBooks)},
		{MethodName: "GetBook", Handler: unary(MethodGetBook, CirculationServer.GetBook)},
		{MethodName: "CreateBook", Handler: unary(MethodCreateBook, CirculationServer.CreateBook)},
		{MethodName: "UpdateBook", Handler: unary(MethodUpdateBook, CirculationServer.UpdateBook)},
		{MethodName: "DeleteBook", Handler: unary(MethodDeleteBook, CirculationServer.DeleteBook)},
		{MethodName: "ListUsers", Handler: unary(MethodListUsers, CirculationServer.ListUsers)},
		{MethodName: "GetUser", Handler: unary(MethodGetUser, CirculationServer.GetUser)},
		{MethodName: "CreateUser", Handler: unary(MethodCreateUser, CirculationServer.CreateUser)},
		{MethodName: "Borrow", Handler: unary(MethodBorrow, CirculationServer.Borrow)},
		{MethodName: "Return", Handler: unary(MethodReturn, CirculationServer.Return)},
		{MethodName: "GetTransaction", Handler: unary(MethodGetTransaction, CirculationServer.GetTransaction)},
		{MethodName: "ListTransactions", Handler: unary(MethodListTransactions, CirculationServer.ListTransactions)},
		{MethodName: "GetReports", Handler: unary(MethodGetReports, CirculationServer.GetReports)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
}
