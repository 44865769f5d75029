package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "hubcart.v1.CheckoutService"

const (
	methodCreateOrder  = "/" + ServiceName + "/CreateOrder"
	methodCheckout     = "/" + ServiceName + "/Checkout"
	methodApplyVoucher = "/" + ServiceName + "/ApplyVoucher"
	methodCancelOrder  = "/" + ServiceName + "/CancelOrder"
)

// CheckoutServer — серверная сторона hubcart.v1.CheckoutService.
type CheckoutServer interface {
	CreateOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Bind(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AssociateCustomer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PopulateCart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveLineItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EmptyCart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Checkout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyVoucher(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveVoucher(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTimeline(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ CheckoutServer = (*CheckoutService)(nil)

// ServiceDesc описывает сервис для grpc.Server и reflection.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CheckoutServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateOrder", CheckoutServer.CreateOrder),
		unary("GetOrder", CheckoutServer.GetOrder),
		unary("Bind", CheckoutServer.Bind),
		unary("AssociateCustomer", CheckoutServer.AssociateCustomer),
		unary("PopulateCart", CheckoutServer.PopulateCart),
		unary("RemoveLineItem", CheckoutServer.RemoveLineItem),
		unary("EmptyCart", CheckoutServer.EmptyCart),
		unary("Checkout", CheckoutServer.Checkout),
		unary("ApplyVoucher", CheckoutServer.ApplyVoucher),
		unary("RemoveVoucher", CheckoutServer.RemoveVoucher),
		unary("CancelOrder", CheckoutServer.CancelOrder),
		unary("GetTimeline", CheckoutServer.GetTimeline),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hubcart/v1/checkout.proto",
}

// RegisterCheckoutServer регистрирует реализацию на сервере.
func RegisterCheckoutServer(s grpc.ServiceRegistrar, srv CheckoutServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(CheckoutServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CheckoutServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(CheckoutServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Client — клиент hubcart.v1.CheckoutService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient оборачивает соединение.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call вызывает метод по короткому имени, например "Checkout".
func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
