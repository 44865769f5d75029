package grpcsvc

import (
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// errorDomain — домен в google.rpc.ErrorInfo.
const errorDomain = "hubcart"

// Причины в google.rpc.ErrorInfo.
const (
	ReasonCheckoutGuard     = "CHECKOUT_GUARD"
	ReasonInsufficientStock = "INSUFFICIENT_STOCK"
)

var kindCodes = map[domain.ErrorKind]codes.Code{
	domain.KindInvalid:      codes.InvalidArgument,
	domain.KindNotFound:     codes.NotFound,
	domain.KindPrecondition: codes.FailedPrecondition,
	domain.KindConflict:     codes.Aborted,
	domain.KindUnavailable:  codes.Unavailable,
	domain.KindDuplicate:    codes.AlreadyExists,
	domain.KindCanceled:     codes.Canceled,
	domain.KindTimeout:      codes.DeadlineExceeded,
}

// toStatus переводит доменную ошибку в gRPC-статус. Уже готовые статусы
// возвращаются как есть, внутренние ошибки не раскрываются клиенту.
func (s *CheckoutService) toStatus(err error, operation, orderID string) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"order_id":  orderID,
	})

	var guardErr *domain.GuardError
	if errors.As(err, &guardErr) {
		entry.Debug("checkout guard rejected request")
		return guardStatus(guardErr)
	}
	var stockErr *domain.StockError
	if errors.As(err, &stockErr) {
		return stockStatus(stockErr, nil)
	}

	code, ok := kindCodes[domain.KindOf(err)]
	if !ok {
		entry.Error("checkout service failed")
		return status.Error(codes.Internal, "internal error")
	}
	if code == codes.Aborted || code == codes.Unavailable {
		entry.Warn("retryable checkout failure")
	}
	return status.Error(code, err.Error())
}

// guardStatus описывает нарушенное условие шага: ErrorInfo с переходом и
// flash-сообщением и BadRequest с ошибками полей.
func guardStatus(ge *domain.GuardError) error {
	meta := map[string]string{"state": string(ge.State)}
	if ge.Redirect != "" {
		meta["redirect"] = string(ge.Redirect)
	}
	if ge.RedirectTo != "" {
		meta["redirect_to"] = ge.RedirectTo
	}
	if ge.Flash != "" {
		meta["flash"] = ge.Flash
	}
	if ge.WindowClosesAt != nil {
		meta["window_closes_at"] = ge.WindowClosesAt.UTC().Format(time.RFC3339)
	}

	st := status.New(codes.FailedPrecondition, ge.Error())
	info := &errdetails.ErrorInfo{Reason: ReasonCheckoutGuard, Domain: errorDomain, Metadata: meta}
	if len(ge.Fields) == 0 {
		return withDetails(st, info)
	}
	fields := make([]string, 0, len(ge.Fields))
	for name := range ge.Fields {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	bad := &errdetails.BadRequest{}
	for _, name := range fields {
		bad.FieldViolations = append(bad.FieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       name,
			Description: ge.Fields[name],
		})
	}
	return withDetails(st, info, bad)
}

// stockStatus описывает нехватку остатков. cart — сохранённое состояние
// корзины, если оно есть.
func stockStatus(se *domain.StockError, cart interface{}) error {
	meta := make(map[string]string, len(se.Lines))
	for _, line := range se.Lines {
		meta[line.VariantID] = fmt.Sprintf("requested=%d available=%d", line.Requested, line.Available)
	}
	st := status.New(codes.FailedPrecondition, se.Error())
	info := &errdetails.ErrorInfo{Reason: ReasonInsufficientStock, Domain: errorDomain, Metadata: meta}
	if cart == nil {
		return withDetails(st, info)
	}
	body, err := encode(cart)
	if err != nil {
		return withDetails(st, info)
	}
	return withDetails(st, info, body)
}

func withDetails(st *status.Status, details ...protoadapt.MessageV1) error {
	detailed, err := st.WithDetails(details...)
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}
