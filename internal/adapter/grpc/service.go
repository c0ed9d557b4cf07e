package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "batchpay.v1.BatchPaymentService"

// BatchPaymentServiceServer is the server API for the batch payment service
type BatchPaymentServiceServer interface {
	StartBatch(context.Context, *StartBatchRequest) (*BatchResponse, error)
	SelectAsset(context.Context, *SelectAssetRequest) (*BatchResponse, error)
	AddRecipient(context.Context, *AddRecipientRequest) (*BatchResponse, error)
	UpdateRecipient(context.Context, *UpdateRecipientRequest) (*BatchResponse, error)
	RemoveRecipient(context.Context, *RemoveRecipientRequest) (*BatchResponse, error)
	ImportRecipients(context.Context, *ImportRecipientsRequest) (*ImportRecipientsResponse, error)
	Next(context.Context, *BatchRequest) (*BatchResponse, error)
	Back(context.Context, *BatchRequest) (*BatchResponse, error)
	Approve(context.Context, *ApproveRequest) (*BatchResponse, error)
	Submit(context.Context, *BatchRequest) (*BatchResponse, error)
	NewBatch(context.Context, *BatchRequest) (*BatchResponse, error)
	GetBatch(context.Context, *BatchRequest) (*BatchResponse, error)
	ExportRecipients(context.Context, *BatchRequest) (*ExportRecipientsResponse, error)
	ListCompletions(context.Context, *ListCompletionsRequest) (*ListCompletionsResponse, error)
	Refresh(context.Context, *BatchRequest) (*BatchResponse, error)
	Reconcile(context.Context, *BatchRequest) (*BatchResponse, error)
	CloseBatch(context.Context, *BatchRequest) (*BatchResponse, error)
}

// unaryHandler adapts a typed server method to a grpc.MethodHandler
func unaryHandler[Req, Resp any](method string, call func(BatchPaymentServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BatchPaymentServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BatchPaymentServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the batch payment service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BatchPaymentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartBatch", Handler: unaryHandler("StartBatch", BatchPaymentServiceServer.StartBatch)},
		{MethodName: "SelectAsset", Handler: unaryHandler("SelectAsset", BatchPaymentServiceServer.SelectAsset)},
		{MethodName: "AddRecipient", Handler: unaryHandler("AddRecipient", BatchPaymentServiceServer.AddRecipient)},
		{MethodName: "UpdateRecipient", Handler: unaryHandler("UpdateRecipient", BatchPaymentServiceServer.UpdateRecipient)},
		{MethodName: "RemoveRecipient", Handler: unaryHandler("RemoveRecipient", BatchPaymentServiceServer.RemoveRecipient)},
		{MethodName: "ImportRecipients", Handler: unaryHandler("ImportRecipients", BatchPaymentServiceServer.ImportRecipients)},
		{MethodName: "Next", Handler: unaryHandler("Next", BatchPaymentServiceServer.Next)},
		{MethodName: "Back", Handler: unaryHandler("Back", BatchPaymentServiceServer.Back)},
		{MethodName: "Approve", Handler: unaryHandler("Approve", BatchPaymentServiceServer.Approve)},
		{MethodName: "Submit", Handler: unaryHandler("Submit", BatchPaymentServiceServer.Submit)},
		{MethodName: "NewBatch", Handler: unaryHandler("NewBatch", BatchPaymentServiceServer.NewBatch)},
		{MethodName: "GetBatch", Handler: unaryHandler("GetBatch", BatchPaymentServiceServer.GetBatch)},
		{MethodName: "ExportRecipients", Handler: unaryHandler("ExportRecipients", BatchPaymentServiceServer.ExportRecipients)},
		{MethodName: "ListCompletions", Handler: unaryHandler("ListCompletions", BatchPaymentServiceServer.ListCompletions)},
		{MethodName: "Refresh", Handler: unaryHandler("Refresh", BatchPaymentServiceServer.Refresh)},
		{MethodName: "Reconcile", Handler: unaryHandler("Reconcile", BatchPaymentServiceServer.Reconcile)},
		{MethodName: "CloseBatch", Handler: unaryHandler("CloseBatch", BatchPaymentServiceServer.CloseBatch)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "batchpay/v1/batchpay.proto",
}

// RegisterBatchPaymentServiceServer registers srv on s
func RegisterBatchPaymentServiceServer(s grpc.ServiceRegistrar, srv BatchPaymentServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client is a typed client for the batch payment service using the JSON codec
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a new Client instance
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) StartBatch(ctx context.Context, in *StartBatchRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "StartBatch", in, opts)
}

func (c *Client) SelectAsset(ctx context.Context, in *SelectAssetRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "SelectAsset", in, opts)
}

func (c *Client) AddRecipient(ctx context.Context, in *AddRecipientRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "AddRecipient", in, opts)
}

func (c *Client) UpdateRecipient(ctx context.Context, in *UpdateRecipientRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "UpdateRecipient", in, opts)
}

func (c *Client) RemoveRecipient(ctx context.Context, in *RemoveRecipientRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "RemoveRecipient", in, opts)
}

func (c *Client) ImportRecipients(ctx context.Context, in *ImportRecipientsRequest, opts ...grpc.CallOption) (*ImportRecipientsResponse, error) {
	return invoke[ImportRecipientsResponse](ctx, c, "ImportRecipients", in, opts)
}

func (c *Client) Next(ctx context.Context, in *BatchRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "Next", in, opts)
}

func (c *Client) Back(ctx context.Context, in *BatchRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "Back", in, opts)
}

func (c *Client) Approve(ctx context.Context, in *ApproveRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "Approve", in, opts)
}

func (c *Client) Submit(ctx context.Context, in *BatchRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "Submit", in, opts)
}

func (c *Client) NewBatch(ctx context.Context, in *BatchRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "NewBatch", in, opts)
}

func (c *Client) GetBatch(ctx context.Context, in *BatchRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "GetBatch", in, opts)
}

func (c *Client) ExportRecipients(ctx context.Context, in *BatchRequest, opts ...grpc.CallOption) (*ExportRecipientsResponse, error) {
	return invoke[ExportRecipientsResponse](ctx, c, "ExportRecipients", in, opts)
}

func (c *Client) ListCompletions(ctx context.Context, in *ListCompletionsRequest, opts ...grpc.CallOption) (*ListCompletionsResponse, error) {
	return invoke[ListCompletionsResponse](ctx, c, "ListCompletions", in, opts)
}

func (c *Client) Refresh(ctx context.Context, in *BatchRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "Refresh", in, opts)
}

func (c *Client) Reconcile(ctx context.Context, in *BatchRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "Reconcile", in, opts)
}

func (c *Client) CloseBatch(ctx context.Context, in *BatchRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c, "CloseBatch", in, opts)
}
