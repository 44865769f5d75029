package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// orderLockClass — первая половина ключа advisory lock, отделяет заказы
// от блокировки миграций.
const orderLockClass = int32(0x6f726472) // "ordr"

const defaultLockPoll = 25 * time.Millisecond

// AdvisoryLocker блокирует заказ session-level advisory lock'ом PostgreSQL,
// поэтому работает между репликами сервиса. Соединение держится до unlock.
type AdvisoryLocker struct {
	store  *Store
	poll   time.Duration
	logger *log.Entry
}

// NewAdvisoryLocker создаёт блокировщик поверх пула store.
func NewAdvisoryLocker(store *Store, logger *log.Entry) *AdvisoryLocker {
	if logger == nil {
		logger = log.New().WithField("component", "pg-locker")
	}
	return &AdvisoryLocker{store: store, poll: defaultLockPoll, logger: logger}
}

// Lock опрашивает pg_try_advisory_lock, пока не получит блокировку или не истечёт ctx.
func (l *AdvisoryLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	conn, err := l.store.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		var acquired bool
		err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1, hashtext($2))`, orderLockClass, orderID).Scan(&acquired)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("try advisory lock %s: %w", orderID, err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), defaultConnTimeout)
			defer cancel()
			if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1, hashtext($2))`, orderLockClass, orderID); err != nil {
				l.logger.WithError(err).WithField("order_id", orderID).Warn("advisory unlock failed, dropping connection")
				// Соединение с удержанной блокировкой не должно вернуться в пул.
				_ = conn.Raw(func(interface{}) error { return driver.ErrBadConn })
			}
			_ = conn.Close()
		})
	}, nil
}

var _ domain.OrderLocker = (*AdvisoryLocker)(nil)
