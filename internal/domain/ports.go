package domain

import (
	"context"
	"time"
)

// PaymentGateway — внешний провайдер оплаты. Ядро зависит только от
// трёхзначного результата авторизации.
type PaymentGateway interface {
	Authorize(ctx context.Context, order Order, method PaymentMethod, amountMinor int64) PaymentResult
}

// OrderLocker — эксклюзивная блокировка заказа на время мутации.
type OrderLocker interface {
	// Lock ждёт блокировку не дольше ctx и возвращает функцию освобождения.
	Lock(ctx context.Context, orderID string) (func(), error)
}

// AnomalyReporter — внешний мониторинг аномалий данных.
type AnomalyReporter interface {
	ReportAnomaly(ctx context.Context, anomaly Anomaly)
}

// Anomaly описывает несогласованность, которую пересчёт исправил сам.
type Anomaly struct {
	Kind         string
	OrderID      string
	AdjustmentID string
	Detail       string
}

// AnomalyPhantomFee — корректировка ссылается на удалённый объект.
const AnomalyPhantomFee = "phantom_fee"

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
// CreateProcessing при занятом ключе возвращает существующую запись и ошибку из IdempotencyRecord.Conflict.
type IdempotencyRepository interface {
	CreateProcessing(claim IdempotencyClaim) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
	// ReleaseStale удаляет ключи, застрявшие в processing (упавший обработчик),
	// если запись не обновлялась с updatedBefore.
	ReleaseStale(updatedBefore time.Time, limit int) (int, error)
}
