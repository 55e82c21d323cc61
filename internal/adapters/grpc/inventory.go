package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

const (
	inventoryServiceName = "wawa.inventory.v1.InventoryService"
	deductMethod         = "/" + inventoryServiceName + "/Deduct"
	restockMethod        = "/" + inventoryServiceName + "/Restock"
)

// InventoryClient adjusts stock on the remote inventory service.
type InventoryClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

func DialInventory(target string, timeout time.Duration, opts ...grpc.DialOption) (*InventoryClient, error) {
	if target == "" {
		return nil, errors.New("inventory target is required")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial inventory: %w", err)
	}
	return &InventoryClient{conn: conn, timeout: timeout}, nil
}

func (c *InventoryClient) Deduct(ctx context.Context, menuItemID string, quantity int) error {
	return c.adjust(ctx, deductMethod, menuItemID, quantity)
}

func (c *InventoryClient) Restock(ctx context.Context, menuItemID string, quantity int) error {
	return c.adjust(ctx, restockMethod, menuItemID, quantity)
}

func (c *InventoryClient) Close() error {
	return c.conn.Close()
}

func (c *InventoryClient) adjust(ctx context.Context, method, menuItemID string, quantity int) error {
	req, err := structpb.NewStruct(map[string]any{
		"menu_item_id": menuItemID,
		"quantity":     quantity,
	})
	if err != nil {
		return fmt.Errorf("build inventory request: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.conn.Invoke(callCtx, method, req, &structpb.Struct{}); err != nil {
		return fromStatus(err)
	}
	return nil
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTransient, err)
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", domain.ErrInsufficientStock, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %s", domain.ErrUpstreamTransient, st.Message())
	default:
		return fmt.Errorf("%w: %s", domain.ErrUpstreamRejected, st.Message())
	}
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// InventoryService is the server half, used when this process hosts stock itself.
type InventoryService interface {
	Deduct(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Restock(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type InventoryServer struct {
	stock ports.InventoryAdjuster
}

func NewInventoryServer(stock ports.InventoryAdjuster) *InventoryServer {
	return &InventoryServer{stock: stock}
}

func (s *InventoryServer) Deduct(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, qty, err := adjustment(req)
	if err != nil {
		return nil, err
	}
	if err := s.stock.Deduct(ctx, id, qty); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *InventoryServer) Restock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, qty, err := adjustment(req)
	if err != nil {
		return nil, err
	}
	if err := s.stock.Restock(ctx, id, qty); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func adjustment(req *structpb.Struct) (string, int, error) {
	fields := req.GetFields()
	id := fields["menu_item_id"].GetStringValue()
	qty := int(fields["quantity"].GetNumberValue())
	if id == "" || qty <= 0 {
		return "", 0, status.Error(codes.InvalidArgument, "menu_item_id and a positive quantity are required")
	}
	return id, qty, nil
}

func RegisterInventory(server grpc.ServiceRegistrar, svc InventoryService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: inventoryServiceName,
		HandlerType: (*InventoryService)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Deduct", Handler: structHandler(deductMethod, svc.Deduct)},
			{MethodName: "Restock", Handler: structHandler(restockMethod, svc.Restock)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "inventory/v1/inventory.proto",
	}, svc)
}

type structMethod func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func structHandler(fullMethod string, call structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
