package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType — тип события ваучера из внешней системы.
type EventType string

const (
	EventTypeVoucherApplied EventType = "voucher.applied"
	EventTypeVoucherRevoked EventType = "voucher.revoked"
)

const (
	TopicOrderEvents     = "hubcart.order.events"
	TopicVoucherEvents   = "hubcart.voucher.events"
	TopicDeadLetterQueue = "hubcart.dlq"
)

// Заголовки сообщений.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
)

var (
	// ErrInvalidVoucherEvent — событие ваучера без обязательных полей.
	ErrInvalidVoucherEvent = errors.New("invalid voucher event")
	// ErrMalformedMessage — значение сообщения не разбирается как JSON.
	ErrMalformedMessage = errors.New("malformed kafka message")
)

// VoucherEvent — изменение ваучера заказа из внешней системы.
// applied несёт код, revoked — ID ваучера.
type VoucherEvent struct {
	EventType EventType `json:"event_type"`
	OrderID   string    `json:"order_id"`
	Code      string    `json:"code,omitempty"`
	VoucherID string    `json:"voucher_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewVoucherEvent создаёт событие с текущим временем.
func NewVoucherEvent(eventType EventType, orderID, code, voucherID string) *VoucherEvent {
	return &VoucherEvent{
		EventType: eventType,
		OrderID:   orderID,
		Code:      code,
		VoucherID: voucherID,
		Timestamp: time.Now().UTC(),
	}
}

// Validate проверяет обязательные поля для типа события.
func (e VoucherEvent) Validate() error {
	if e.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", ErrInvalidVoucherEvent)
	}
	switch e.EventType {
	case EventTypeVoucherApplied:
		if e.Code == "" {
			return fmt.Errorf("%w: code is required for %s", ErrInvalidVoucherEvent, e.EventType)
		}
	case EventTypeVoucherRevoked:
		if e.VoucherID == "" {
			return fmt.Errorf("%w: voucher_id is required for %s", ErrInvalidVoucherEvent, e.EventType)
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidVoucherEvent, e.EventType)
	}
	return nil
}

// Envelope — формат событий заказа в TopicOrderEvents.
// Payload — JSON, записанный в outbox вместе с переходом.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Key — ключ партиционирования: заказ, а без него ID события.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// ConsumerFailure — запись в DLQ о сообщении, которое consumer не смог обработать.
type ConsumerFailure struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// ParseEnvelope разбирает событие заказа из TopicOrderEvents.
func ParseEnvelope(value []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.EventType == "" || len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: envelope without event type or payload", ErrMalformedMessage)
	}
	return &env, nil
}
