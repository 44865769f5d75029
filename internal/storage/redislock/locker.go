// Package redislock реализует блокировку заказов через Redis для
// нескольких реплик без общей базы.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

const (
	defaultLease = 30 * time.Second
	defaultPoll  = 20 * time.Millisecond
	keyPrefix    = "hubcart:order_lock:"
)

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу токена.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Option настраивает Locker.
type Option func(*Locker)

// WithLease задаёт срок жизни блокировки на случай падения владельца.
func WithLease(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.lease = d
		}
	}
}

// WithPollInterval задаёт паузу между попытками захвата.
func WithPollInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.poll = d
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Locker — SET NX PX с уникальным токеном владельца.
type Locker struct {
	rdb    redis.Cmdable
	lease  time.Duration
	poll   time.Duration
	prefix string
	logger *log.Entry
}

// New создаёт блокировщик поверх клиента Redis.
func New(rdb redis.Cmdable, opts ...Option) *Locker {
	l := &Locker{
		rdb:    rdb,
		lease:  defaultLease,
		poll:   defaultPoll,
		prefix: keyPrefix,
		logger: log.New().WithField("component", "redis-locker"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock повторяет SET NX, пока ключ занят, и сдаётся по ctx.
func (l *Locker) Lock(ctx context.Context, orderID string) (func(), error) {
	key := l.prefix + orderID
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("redis lock %s: %w", orderID, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			released, err := releaseScript.Run(releaseCtx, l.rdb, []string{key}, token).Int()
			switch {
			case err != nil:
				l.logger.WithError(err).WithField("order_id", orderID).Warn("redis unlock failed, lease will expire")
			case released == 0:
				l.logger.WithField("order_id", orderID).Warn("redis lock lease expired before unlock")
			}
		})
	}, nil
}

var _ domain.OrderLocker = (*Locker)(nil)
