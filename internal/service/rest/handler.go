// Package rest — JSON API витрины поверх gin. Ошибки отдаются как
// application/problem+json.
package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/service/idempotency"
	"github.com/vladislavdragonenkov/hubcart/internal/service/storefront"
)

// Handler обслуживает маршруты /api/v1.
type Handler struct {
	front  *storefront.Service
	idem   *idempotency.Executor
	logger *log.Entry
}

// NewHandler конструирует обработчики. idem может быть nil: тогда
// заголовок Idempotency-Key не требуется.
func NewHandler(front *storefront.Service, idem *idempotency.Executor, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "rest")
	}
	return &Handler{front: front, idem: idem, logger: logger}
}

// endpoint возвращает HTTP-статус и тело ответа либо ошибку.
type endpoint func(c *gin.Context) (int, interface{}, error)

func (h *Handler) serve(op string, fn endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, body, err := fn(c)
		if err != nil {
			h.fail(c, op, err)
			return
		}
		c.JSON(status, body)
	}
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	problem, ok := problemFor(err)
	entry := h.logger.WithError(err).WithFields(log.Fields{
		"operation": op,
		"order_id":  c.Param("order_id"),
	})
	switch {
	case !ok:
		entry.Error("request failed")
	case problem.Status >= http.StatusInternalServerError:
		entry.Warn("request failed")
	default:
		entry.Debug("request rejected")
	}
	respondProblem(c, problem)
}

func (h *Handler) createOrder(c *gin.Context) (int, interface{}, error) {
	var in storefront.NewOrderRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &in); err != nil {
			return 0, nil, err
		}
	}
	order, err := h.front.NewOrder(c.Request.Context(), in)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, storefront.OrderResponse{Order: storefront.View(order)}, nil
}

func (h *Handler) getOrder(c *gin.Context) (int, interface{}, error) {
	order, res, err := h.front.Get(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, storefront.OrderResponse{Order: storefront.ViewWithRecompute(order, res)}, nil
}

func (h *Handler) bind(c *gin.Context) (int, interface{}, error) {
	var in storefront.BindRequest
	if err := bindJSON(c, &in); err != nil {
		return 0, nil, err
	}
	res, err := h.front.Bind(c.Request.Context(), c.Param("order_id"), in.HubID, in.OrderCycleID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, storefront.NewBindResponse(res), nil
}

func (h *Handler) associateCustomer(c *gin.Context) (int, interface{}, error) {
	var in storefront.AssociateCustomerRequest
	if err := bindJSON(c, &in); err != nil {
		return 0, nil, err
	}
	order, err := h.front.AssociateCustomer(c.Request.Context(), c.Param("order_id"), in.CustomerID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, storefront.OrderResponse{Order: storefront.View(order)}, nil
}

// populate при нехватке остатков отвечает 409 и кладёт сохранённую корзину
// в extensions.order.
func (h *Handler) populate(c *gin.Context) (int, interface{}, error) {
	var in storefront.PopulateRequest
	if err := bindJSON(c, &in); err != nil {
		return 0, nil, err
	}
	res, err := h.front.Populate(c.Request.Context(), c.Param("order_id"), in.Lines)
	if err != nil {
		if stockErr, ok := storefront.AsStockError(err); ok && res.Order.ID != "" {
			return 0, nil, stockProblem(stockErr).WithExtension("order", storefront.NewCartResponse(res).Order)
		}
		return 0, nil, err
	}
	return http.StatusOK, storefront.NewCartResponse(res), nil
}

func (h *Handler) removeLineItem(c *gin.Context) (int, interface{}, error) {
	order, err := h.front.RemoveLineItem(c.Request.Context(), c.Param("order_id"), c.Param("line_item_id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, storefront.OrderResponse{Order: storefront.View(order)}, nil
}

func (h *Handler) emptyCart(c *gin.Context) (int, interface{}, error) {
	order, err := h.front.EmptyCart(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, storefront.OrderResponse{Order: storefront.View(order)}, nil
}

func (h *Handler) checkout(c *gin.Context) (int, interface{}, error) {
	var in storefront.CheckoutRequest
	if err := bindJSON(c, &in); err != nil {
		return 0, nil, err
	}
	order, out, err := h.front.Checkout(c.Request.Context(), c.Param("order_id"), in.Submission())
	if err != nil {
		return 0, nil, err
	}
	if out.RedirectURL != "" {
		c.Header("Location", out.RedirectURL)
	}
	return http.StatusOK, storefront.NewCheckoutResponse(order, out), nil
}

func (h *Handler) applyVoucher(c *gin.Context) (int, interface{}, error) {
	var in storefront.ApplyVoucherRequest
	if err := bindJSON(c, &in); err != nil {
		return 0, nil, err
	}
	order, out, err := h.front.ApplyVoucher(c.Request.Context(), c.Param("order_id"), in.Code)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, storefront.NewVoucherResponse(order, out), nil
}

func (h *Handler) removeVoucher(c *gin.Context) (int, interface{}, error) {
	order, out, err := h.front.RemoveVoucher(c.Request.Context(), c.Param("order_id"), c.Param("adjustment_id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, storefront.NewVoucherResponse(order, out), nil
}

func (h *Handler) cancel(c *gin.Context) (int, interface{}, error) {
	var in storefront.CancelRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &in); err != nil {
			return 0, nil, err
		}
	}
	order, err := h.front.Cancel(c.Request.Context(), c.Param("order_id"), in.Reason)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, storefront.OrderResponse{Order: storefront.View(order)}, nil
}

func (h *Handler) timeline(c *gin.Context) (int, interface{}, error) {
	orderID := c.Param("order_id")
	events, err := h.front.Timeline(c.Request.Context(), orderID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, storefront.NewTimelineResponse(orderID, events), nil
}

// bindJSON декодирует тело; ошибки валидатора становятся validation-error
// с полями в extensions.errors.
func bindJSON(c *gin.Context, dst interface{}) error {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldPath(fe)] = fe.Tag()
		}
		return errValidation.WithDetail("request validation failed").WithExtension("errors", fields)
	}
	return errBadRequest.WithDetail(err.Error())
}

// fieldPath отрезает имя корневой структуры: "lines[0].variant_id".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}
