package storefront

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/messaging/kafka"
)

// HandleVoucherEvent обрабатывает изменения ваучеров из внешней системы.
// Сообщения топика kafka.TopicVoucherEvents разбирает kafka.VoucherMessageHandler.
//
// Бизнес-отказы (код недействителен, заказ завершён или не найден) подтверждаются
// без повтора: повторная доставка их не исправит. Конфликты и битые сообщения
// возвращаются ошибкой, и consumer решает про retry и DLQ.
func (s *Service) HandleVoucherEvent(ctx context.Context, event *kafka.VoucherEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	entry := s.logger.WithFields(log.Fields{
		"order_id":   event.OrderID,
		"event_type": event.EventType,
	})

	var err error
	switch event.EventType {
	case kafka.EventTypeVoucherApplied:
		_, _, err = s.ApplyVoucher(ctx, event.OrderID, event.Code)
	case kafka.EventTypeVoucherRevoked:
		var revoked bool
		_, revoked, err = s.RevokeVoucher(ctx, event.OrderID, event.VoucherID)
		if err == nil && !revoked {
			entry.WithField("voucher_id", event.VoucherID).Debug("voucher not applied to order, nothing to revoke")
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", kafka.ErrInvalidVoucherEvent, event.EventType)
	}

	if err == nil {
		entry.Info("voucher event applied")
		return nil
	}
	if rejected(err) {
		entry.WithError(err).Warn("voucher event rejected")
		return nil
	}
	return fmt.Errorf("handle %s for order %s: %w", event.EventType, event.OrderID, err)
}

func rejected(err error) bool {
	for _, target := range []error{
		domain.ErrOrderNotFound,
		domain.ErrOrderCompleted,
		domain.ErrOrderCanceled,
		domain.ErrVoucherCodeBlank,
		domain.ErrVoucherNotFound,
		domain.ErrVoucherInvalid,
		domain.ErrAdjustmentNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
