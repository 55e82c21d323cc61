package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/application"
)

const orderServiceName = "wawa.orders.v1.OrderInternalService"

// OrderInternalService answers status lookups from sibling services (kitchen display,
// delivery dispatch) without going through the public HTTP surface.
type OrderInternalService interface {
	GetOrderStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPointsBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type OrderInternalServer struct {
	service *application.Service
}

func NewOrderInternalServer(service *application.Service) *OrderInternalServer {
	return &OrderInternalServer{service: service}
}

func RegisterOrders(server grpc.ServiceRegistrar, svc OrderInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: orderServiceName,
		HandlerType: (*OrderInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetOrderStatus", Handler: structHandler("/"+orderServiceName+"/GetOrderStatus", svc.GetOrderStatus)},
			{MethodName: "GetPointsBalance", Handler: structHandler("/"+orderServiceName+"/GetPointsBalance", svc.GetPointsBalance)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "orders/v1/order_internal.proto",
	}, svc)
}

func (s *OrderInternalServer) GetOrderStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID := req.GetFields()["order_id"].GetStringValue()
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing order_id")
	}
	order, err := s.service.GetOrder(ctx, internalActor(ctx), orderID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"order_id":               order.ID,
		"status":                 string(order.Status),
		"payment_status":         string(order.Payment.Status),
		"estimated_wait_minutes": order.EstimatedWaitMinutes,
		"total":                  order.Totals.Total.String(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *OrderInternalServer) GetPointsBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := req.GetFields()["user_id"].GetStringValue()
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing user_id")
	}
	balance, err := s.service.GetBalance(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"user_id": userID,
		"balance": balance,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

// internalActor names the calling service from the x-caller metadata key.
func internalActor(ctx context.Context) application.Actor {
	caller := "internal"
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-caller"); len(v) > 0 && v[0] != "" {
			caller = v[0]
		}
	}
	return application.SystemActor("grpc:" + caller)
}
