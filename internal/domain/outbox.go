package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OutboxStatus — состояние записи transactional outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	// OutboxStatusFailed — публикация не удалась, событие ушло в DLQ или DLQ нет.
	OutboxStatusFailed OutboxStatus = "failed"
)

// AggregateOrder — тип агрегата для событий заказа.
const AggregateOrder = "order"

// ErrOutboxMessageInvalid — событие без заказа или типа.
var ErrOutboxMessageInvalid = errors.New("outbox message requires aggregate id and event type")

// OutboxMessage — событие заказа, записанное для публикации после коммита.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Normalize проверяет событие и заполняет тип агрегата и пустой payload.
func (m OutboxMessage) Normalize() (OutboxMessage, error) {
	m.AggregateID = strings.TrimSpace(m.AggregateID)
	m.EventType = strings.TrimSpace(m.EventType)
	if m.AggregateID == "" || m.EventType == "" {
		return m, ErrOutboxMessageInvalid
	}
	if m.AggregateType == "" {
		m.AggregateType = AggregateOrder
	}
	if len(m.Payload) == 0 {
		m.Payload = []byte("{}")
	}
	return m, nil
}

// OutboxStats — размер backlog и число событий, которые так и не ушли.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}

// ErrOutboxMessageNotFound оборачивает ErrOutboxPublish, чтобы воркер видел один класс ошибок.
func ErrOutboxMessageNotFound(id string) error {
	return fmt.Errorf("%w: message %s not found", ErrOutboxPublish, id)
}

// ErrOutboxAlreadyFinished — запись уже помечена sent или failed.
func ErrOutboxAlreadyFinished(id string, status OutboxStatus) error {
	return fmt.Errorf("%w: message %s is already %s", ErrOutboxPublish, id, status)
}
