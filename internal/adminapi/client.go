package adminapi

import (
	"context"

	"google.golang.org/grpc"
)

// AdminClient is the client side of the admin service.
type AdminClient interface {
	Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error)
	ListReceipts(ctx context.Context, in *ListReceiptsRequest, opts ...grpc.CallOption) (*ListReceiptsResponse, error)
	GetReceipt(ctx context.Context, in *GetReceiptRequest, opts ...grpc.CallOption) (*GetReceiptResponse, error)
	ApproveReceipt(ctx context.Context, in *ApproveReceiptRequest, opts ...grpc.CallOption) (*ReviewResponse, error)
	RejectReceipt(ctx context.Context, in *RejectReceiptRequest, opts ...grpc.CallOption) (*ReviewResponse, error)
	ResolvePayout(ctx context.Context, in *ResolvePayoutRequest, opts ...grpc.CallOption) (*PayoutResponse, error)
	RejectScan(ctx context.Context, in *RejectScanRequest, opts ...grpc.CallOption) (*RejectScanResponse, error)
}

type adminClient struct {
	cc grpc.ClientConnInterface
}

func NewAdminClient(cc grpc.ClientConnInterface) AdminClient {
	return &adminClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, MethodLogin, in, opts)
}

func (c *adminClient) ListReceipts(ctx context.Context, in *ListReceiptsRequest, opts ...grpc.CallOption) (*ListReceiptsResponse, error) {
	return invoke[ListReceiptsResponse](ctx, c.cc, MethodListReceipts, in, opts)
}

func (c *adminClient) GetReceipt(ctx context.Context, in *GetReceiptRequest, opts ...grpc.CallOption) (*GetReceiptResponse, error) {
	return invoke[GetReceiptResponse](ctx, c.cc, MethodGetReceipt, in, opts)
}

func (c *adminClient) ApproveReceipt(ctx context.Context, in *ApproveReceiptRequest, opts ...grpc.CallOption) (*ReviewResponse, error) {
	return invoke[ReviewResponse](ctx, c.cc, MethodApproveReceipt, in, opts)
}

func (c *adminClient) RejectReceipt(ctx context.Context, in *RejectReceiptRequest, opts ...grpc.CallOption) (*ReviewResponse, error) {
	return invoke[ReviewResponse](ctx, c.cc, MethodRejectReceipt, in, opts)
}

func (c *adminClient) ResolvePayout(ctx context.Context, in *ResolvePayoutRequest, opts ...grpc.CallOption) (*PayoutResponse, error) {
	return invoke[PayoutResponse](ctx, c.cc, MethodResolvePayout, in, opts)
}

func (c *adminClient) RejectScan(ctx context.Context, in *RejectScanRequest, opts ...grpc.CallOption) (*RejectScanResponse, error) {
	return invoke[RejectScanResponse](ctx, c.cc, MethodRejectScan, in, opts)
}
