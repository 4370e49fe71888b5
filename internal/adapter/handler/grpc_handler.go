package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/service"
)

// JSONCodecName is the content subtype clients pass with
// grpc.CallContentSubtype to talk to the order query service.
const JSONCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type GetOrderRequest struct {
	UserID  int64 `json:"user_id"`
	OrderID int64 `json:"order_id"`
}

type ListOrdersRequest struct {
	UserID  int64 `json:"user_id"`
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
}

type OrderReply struct {
	Order orderResponse `json:"order"`
}

type ListOrdersReply struct {
	Orders []orderResponse `json:"orders"`
	Meta   paginationMeta  `json:"meta"`
}

// OrderQueryServer is the read side of the order API for internal callers.
type OrderQueryServer interface {
	GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderReply, error)
	ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersReply, error)
}

type GRPCHandler struct {
	orders   *service.OrderService
	payments *service.PaymentService
	logger   *zap.Logger
}

func NewGRPCHandler(orders *service.OrderService, payments *service.PaymentService, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{orders: orders, payments: payments, logger: logger}
}

func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&orderQueryServiceDesc, h)
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderReply, error) {
	if req.UserID <= 0 || req.OrderID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "user_id and order_id are required")
	}
	order, err := h.orders.GetOrder(ctx, req.UserID, req.OrderID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &OrderReply{Order: presentOrder(order, h.payments.BankDetails)}, nil
}

func (h *GRPCHandler) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersReply, error) {
	if req.UserID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	page, perPage := req.Page, req.PerPage
	if perPage == 0 {
		perPage = service.DefaultPerPage
	}

	result, err := h.orders.ListOrders(ctx, req.UserID, page, perPage)
	if err != nil {
		return nil, h.toStatus(err)
	}

	reply := &ListOrdersReply{
		Orders: make([]orderResponse, 0, len(result.Orders)),
		Meta: paginationMeta{
			CurrentPage: result.Page,
			PerPage:     result.PerPage,
			Total:       result.Total,
			LastPage:    result.LastPage(),
		},
	}
	for i := range result.Orders {
		reply.Orders = append(reply.Orders, presentOrder(&result.Orders[i], h.payments.BankDetails))
	}
	return reply, nil
}

func (h *GRPCHandler) toStatus(err error) error {
	switch domain.Classify(err) {
	case domain.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.KindValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		h.logger.Error("grpc_request_failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}

func getOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderQueryServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/storefront.orders.v1.OrderQuery/GetOrder"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(OrderQueryServer).GetOrder(ctx, req.(*GetOrderRequest))
	})
}

func listOrdersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListOrdersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderQueryServer).ListOrders(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/storefront.orders.v1.OrderQuery/ListOrders"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(OrderQueryServer).ListOrders(ctx, req.(*ListOrdersRequest))
	})
}

var orderQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: "storefront.orders.v1.OrderQuery",
	HandlerType: (*OrderQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetOrder", Handler: getOrderHandler},
		{MethodName: "ListOrders", Handler: listOrdersHandler},
	},
	Streams:     []grpc.StreamDesc{},
}
