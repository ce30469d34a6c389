package adminapi

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "scanrebate.admin.v1.AdminService"

const (
	MethodLogin          = "/" + ServiceName + "/Login"
	MethodListReceipts   = "/" + ServiceName + "/ListReceipts"
	MethodGetReceipt     = "/" + ServiceName + "/GetReceipt"
	MethodApproveReceipt = "/" + ServiceName + "/ApproveReceipt"
	MethodRejectReceipt  = "/" + ServiceName + "/RejectReceipt"
	MethodResolvePayout  = "/" + ServiceName + "/ResolvePayout"
	MethodRejectScan     = "/" + ServiceName + "/RejectScan"
)

// AdminServer is implemented by the operator API.
type AdminServer interface {
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	ListReceipts(context.Context, *ListReceiptsRequest) (*ListReceiptsResponse, error)
	GetReceipt(context.Context, *GetReceiptRequest) (*GetReceiptResponse, error)
	ApproveReceipt(context.Context, *ApproveReceiptRequest) (*ReviewResponse, error)
	RejectReceipt(context.Context, *RejectReceiptRequest) (*ReviewResponse, error)
	ResolvePayout(context.Context, *ResolvePayoutRequest) (*PayoutResponse, error)
	RejectScan(context.Context, *RejectScanRequest) (*RejectScanResponse, error)
}

func unaryHandler[Req, Resp any](fullMethod string, call func(AdminServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AdminServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc is the descriptor registered with grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: unaryHandler(MethodLogin, AdminServer.Login)},
		{MethodName: "ListReceipts", Handler: unaryHandler(MethodListReceipts, AdminServer.ListReceipts)},
		{MethodName: "GetReceipt", Handler: unaryHandler(MethodGetReceipt, AdminServer.GetReceipt)},
		{MethodName: "ApproveReceipt", Handler: unaryHandler(MethodApproveReceipt, AdminServer.ApproveReceipt)},
		{MethodName: "RejectReceipt", Handler: unaryHandler(MethodRejectReceipt, AdminServer.RejectReceipt)},
		{MethodName: "ResolvePayout", Handler: unaryHandler(MethodResolvePayout, AdminServer.ResolvePayout)},
		{MethodName: "RejectScan", Handler: unaryHandler(MethodRejectScan, AdminServer.RejectScan)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: protoFile,
}

func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&ServiceDesc, srv)
}
