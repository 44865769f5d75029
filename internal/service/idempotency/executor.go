package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// DefaultTTL — сколько хранится ответ на запрос с ключом идемпотентности.
const DefaultTTL = domain.DefaultIdempotencyTTL

var (
	// ErrRequestInProgress — запрос с тем же ключом ещё выполняется.
	ErrRequestInProgress = errors.New("request with the same idempotency key is already processing")
	// ErrPreviousFailure — запрос с тем же ключом уже завершился ошибкой; её ответ возвращается повторно.
	ErrPreviousFailure = errors.New("previous request with the same idempotency key failed")
)

// Response — сериализованный ответ транспорта. Status — HTTP-статус или gRPC-код.
type Response struct {
	Status int
	Body   []byte
}

// Executor гарантирует, что операция с одним ключом выполняется один раз,
// а повторы получают сохранённый ответ. Используется и gRPC, и REST.
type Executor struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewExecutor создаёт Executor. ttl<=0 — DefaultTTL.
func NewExecutor(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Executor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.New().WithField("component", "idempotency")
	}
	return &Executor{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	if now != nil {
		e.now = now
	}
	return e
}

// Enabled сообщает, подключено ли хранилище ключей.
func (e *Executor) Enabled() bool {
	return e != nil && e.repo != nil
}

// Run выполняет handler операции operation под ключом key. Повтор с тем же
// хэшем запроса получает сохранённый ответ (replayed=true); провал повторяется
// как ErrPreviousFailure вместе с сохранённым ответом. Ключ с другим хэшем или
// от другой операции отклоняется с domain.ErrIdempotencyHashMismatch.
//
// При ошибке handler должен вернуть и Response, описывающий ошибку для клиента.
func (e *Executor) Run(ctx context.Context, operation, key, requestHash string, handler func(context.Context) (Response, error)) (Response, bool, error) {
	if !e.Enabled() {
		resp, err := handler(ctx)
		return resp, false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Response{}, false, domain.ErrIdempotencyKeyRequired
	}
	entry := e.logger.WithFields(log.Fields{"idempotency_key": key, "operation": operation})

	record, err := e.repo.CreateProcessing(domain.IdempotencyClaim{
		Key:         key,
		Operation:   operation,
		RequestHash: requestHash,
		TTLAt:       e.now().Add(e.ttl),
	})
	if err != nil {
		return e.replay(entry, record, err)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		if err := e.repo.MarkFailed(key, resp.Body, resp.Status); err != nil {
			entry.WithError(err).Warn("failed to store idempotency failure response")
		}
		return resp, false, runErr
	}
	if err := e.repo.MarkDone(key, resp.Body, resp.Status); err != nil {
		entry.WithError(err).Warn("failed to store idempotent success response")
	}
	return resp, false, nil
}

func (e *Executor) replay(entry *log.Entry, record domain.IdempotencyRecord, createErr error) (Response, bool, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, false, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		cached := Response{Status: record.HTTPStatus, Body: record.ResponseBody}
		switch record.Status {
		case domain.IdempotencyStatusDone:
			entry.Debug("idempotent response replayed")
			return cached, true, nil
		case domain.IdempotencyStatusProcessing:
			return Response{}, false, ErrRequestInProgress
		case domain.IdempotencyStatusFailed:
			return cached, true, ErrPreviousFailure
		default:
			return Response{}, false, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		entry.WithError(createErr).Warn("failed to create idempotency record")
		return Response{}, false, fmt.Errorf("initialize idempotency request: %w", createErr)
	}
}

// RequestHash строит отпечаток запроса из имени операции и детерминированного тела.
func RequestHash(operation string, body []byte) string {
	payload := make([]byte, 0, len(operation)+1+len(body))
	payload = append(payload, operation...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
