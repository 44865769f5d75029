package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultIdempotencyTTL — срок хранения ключа, если TTLAt не задан.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing — запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone — запрос завершён, ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed — обработка завершилась ошибкой, ответ об ошибке сохранён.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal — ответ сохранён и может быть отдан повторно.
func (s IdempotencyStatus) Terminal() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса или другой операцией.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound  = errors.New("idempotency key not found")
)

// IdempotencyClaim — попытка занять ключ под операцию заказа.
type IdempotencyClaim struct {
	Key string
	// Operation — имя операции: CreateOrder, Checkout, ApplyVoucher, CancelOrder.
	Operation   string
	RequestHash string
	TTLAt       time.Time
}

// Normalize обрезает пробелы, проверяет обязательные поля и проставляет TTL.
func (c IdempotencyClaim) Normalize(now time.Time) (IdempotencyClaim, error) {
	c.Key = strings.TrimSpace(c.Key)
	c.Operation = strings.TrimSpace(c.Operation)
	c.RequestHash = strings.TrimSpace(c.RequestHash)
	if c.Key == "" {
		return c, ErrIdempotencyKeyRequired
	}
	if c.RequestHash == "" {
		return c, ErrIdempotencyRequestHashRequired
	}
	if c.TTLAt.IsZero() {
		c.TTLAt = now.Add(DefaultIdempotencyTTL)
	}
	return c, nil
}

// IdempotencyRecord хранит состояние обработки запроса с idempotency-key.
type IdempotencyRecord struct {
	Key          string
	Operation    string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIdempotencyRecord создаёт запись в статусе processing.
func NewIdempotencyRecord(c IdempotencyClaim, now time.Time) IdempotencyRecord {
	return IdempotencyRecord{
		Key:         c.Key,
		Operation:   c.Operation,
		RequestHash: c.RequestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       c.TTLAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Conflict объясняет, почему занятый ключ нельзя взять повторно.
// Другая операция или другой хэш — ErrIdempotencyHashMismatch, иначе ErrIdempotencyKeyAlreadyExists.
func (r IdempotencyRecord) Conflict(c IdempotencyClaim) error {
	if r.Operation != "" && c.Operation != "" && r.Operation != c.Operation {
		return fmt.Errorf("%w: key was issued for %s", ErrIdempotencyHashMismatch, r.Operation)
	}
	if r.RequestHash != c.RequestHash {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}

// Expired — запись можно удалить.
func (r IdempotencyRecord) Expired(at time.Time) bool {
	return !r.TTLAt.After(at)
}

// IsIdempotencyConflict проверяет, что ключ уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
