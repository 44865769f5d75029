package grpcsvc

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/hubcart/internal/service/idempotency"
	"github.com/vladislavdragonenkov/hubcart/internal/service/storefront"
)

// CheckoutService реализует gRPC API витрины поверх storefront.Service.
// Запросы и ответы передаются как google.protobuf.Struct с полями в snake_case.
type CheckoutService struct {
	front  *storefront.Service
	idem   *idempotency.Executor
	logger *log.Entry
}

// NewCheckoutService конструирует сервис. idem может быть nil: тогда ключи
// идемпотентности не требуются.
func NewCheckoutService(front *storefront.Service, idem *idempotency.Executor, logger *log.Entry) *CheckoutService {
	if logger == nil {
		logger = log.New().WithField("component", "checkout-service")
	}
	return &CheckoutService{front: front, idem: idem, logger: logger}
}

// CreateOrder создаёт корзину; hub_id и order_cycle_id необязательны.
func (s *CheckoutService) CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.idempotent(ctx, methodCreateOrder, req, func(ctx context.Context) (*structpb.Struct, error) {
		var in storefront.NewOrderRequest
		if err := decode(req, &in); err != nil {
			return nil, err
		}
		order, err := s.front.NewOrder(ctx, in)
		if err != nil {
			return nil, s.toStatus(err, "CreateOrder", "")
		}
		return encode(storefront.OrderResponse{Order: storefront.View(order)})
	})
}

// GetOrder возвращает заказ с пересчитанными корректировками.
func (s *CheckoutService) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in storefront.OrderRef
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	order, res, err := s.front.Get(ctx, in.OrderID)
	if err != nil {
		return nil, s.toStatus(err, "GetOrder", in.OrderID)
	}
	return encode(storefront.OrderResponse{Order: storefront.ViewWithRecompute(order, res)})
}

// Bind привязывает заказ к хабу и окну продаж.
func (s *CheckoutService) Bind(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in storefront.BindRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	res, err := s.front.Bind(ctx, in.OrderID, in.HubID, in.OrderCycleID)
	if err != nil {
		return nil, s.toStatus(err, "Bind", in.OrderID)
	}
	return encode(storefront.NewBindResponse(res))
}

// AssociateCustomer привязывает покупателя к заказу.
func (s *CheckoutService) AssociateCustomer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in storefront.AssociateCustomerRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	order, err := s.front.AssociateCustomer(ctx, in.OrderID, in.CustomerID)
	if err != nil {
		return nil, s.toStatus(err, "AssociateCustomer", in.OrderID)
	}
	return encode(storefront.OrderResponse{Order: storefront.View(order)})
}

// PopulateCart устанавливает количества позиций. Нехватка остатков возвращается
// как FailedPrecondition, в деталях — сохранённый заказ и уровни остатков.
func (s *CheckoutService) PopulateCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in storefront.PopulateRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	res, err := s.front.Populate(ctx, in.OrderID, in.Lines)
	if err != nil {
		if stockErr, ok := storefront.AsStockError(err); ok && res.Order.ID != "" {
			return nil, stockStatus(stockErr, storefront.NewCartResponse(res))
		}
		return nil, s.toStatus(err, "PopulateCart", in.OrderID)
	}
	return encode(storefront.NewCartResponse(res))
}

// RemoveLineItem удаляет позицию корзины.
func (s *CheckoutService) RemoveLineItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in storefront.RemoveLineItemRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	order, err := s.front.RemoveLineItem(ctx, in.OrderID, in.LineItemID)
	if err != nil {
		return nil, s.toStatus(err, "RemoveLineItem", in.OrderID)
	}
	return encode(storefront.OrderResponse{Order: storefront.View(order)})
}

// EmptyCart очищает корзину и прекращает оформление.
func (s *CheckoutService) EmptyCart(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in storefront.OrderRef
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	order, err := s.front.EmptyCart(ctx, in.OrderID)
	if err != nil {
		return nil, s.toStatus(err, "EmptyCart", in.OrderID)
	}
	return encode(storefront.OrderResponse{Order: storefront.View(order)})
}

// Checkout отправляет шаг оформления. Требует idempotency-key, если хранилище ключей подключено.
func (s *CheckoutService) Checkout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.idempotent(ctx, methodCheckout, req, func(ctx context.Context) (*structpb.Struct, error) {
		var in storefront.CheckoutRequest
		if err := decode(req, &in); err != nil {
			return nil, err
		}
		order, out, err := s.front.Checkout(ctx, in.OrderID, in.Submission())
		if err != nil {
			return nil, s.toStatus(err, "Checkout", in.OrderID)
		}
		return encode(storefront.NewCheckoutResponse(order, out))
	})
}

// ApplyVoucher применяет код ваучера.
func (s *CheckoutService) ApplyVoucher(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.idempotent(ctx, methodApplyVoucher, req, func(ctx context.Context) (*structpb.Struct, error) {
		var in storefront.ApplyVoucherRequest
		if err := decode(req, &in); err != nil {
			return nil, err
		}
		order, out, err := s.front.ApplyVoucher(ctx, in.OrderID, in.Code)
		if err != nil {
			return nil, s.toStatus(err, "ApplyVoucher", in.OrderID)
		}
		return encode(storefront.NewVoucherResponse(order, out))
	})
}

// RemoveVoucher снимает ваучер по ID корректировки.
func (s *CheckoutService) RemoveVoucher(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in storefront.RemoveVoucherRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	order, out, err := s.front.RemoveVoucher(ctx, in.OrderID, in.AdjustmentID)
	if err != nil {
		return nil, s.toStatus(err, "RemoveVoucher", in.OrderID)
	}
	return encode(storefront.NewVoucherResponse(order, out))
}

// CancelOrder отменяет незавершённый заказ.
func (s *CheckoutService) CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.idempotent(ctx, methodCancelOrder, req, func(ctx context.Context) (*structpb.Struct, error) {
		var in storefront.CancelRequest
		if err := decode(req, &in); err != nil {
			return nil, err
		}
		order, err := s.front.Cancel(ctx, in.OrderID, in.Reason)
		if err != nil {
			return nil, s.toStatus(err, "CancelOrder", in.OrderID)
		}
		return encode(storefront.OrderResponse{Order: storefront.View(order)})
	})
}

// GetTimeline возвращает историю событий заказа.
func (s *CheckoutService) GetTimeline(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in storefront.OrderRef
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	events, err := s.front.Timeline(ctx, in.OrderID)
	if err != nil {
		return nil, s.toStatus(err, "GetTimeline", in.OrderID)
	}
	return encode(storefront.NewTimelineResponse(in.OrderID, events))
}

// decode раскладывает Struct в типизированный запрос через JSON.
func decode(req *structpb.Struct, dst interface{}) error {
	if req == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	data, err := protojson.Marshal(req)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

// encode переводит ответ в Struct. Числа становятся double: суммы в минимальных
// единицах укладываются в точность float64.
func encode(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
