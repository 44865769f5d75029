package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway для тестов и локального запуска.
type MockGateway struct {
	mu sync.Mutex

	// Result возвращается как есть; нулевое значение означает успешную авторизацию.
	Result *domain.PaymentResult
	// Delay имитирует сетевую задержку провайдера.
	Delay time.Duration

	Calls       int
	LastAmount  int64
	LastOrderID string
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// Decline настраивает структурный отказ (например, недействительная карта).
func (m *MockGateway) Decline(message string) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Result = &domain.PaymentResult{Err: &domain.PaymentError{Message: message}}
	return m
}

// Unavailable настраивает временную ошибку провайдера.
func (m *MockGateway) Unavailable(message string) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Result = &domain.PaymentResult{Err: &domain.PaymentError{Transient: true, Message: message}}
	return m
}

// Redirect настраивает ответ с подтверждением на стороне провайдера.
func (m *MockGateway) Redirect(url string) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Result = &domain.PaymentResult{RedirectURL: url, ExternalID: "mock-" + uuid.NewString()}
	return m
}

// Succeed возвращает mock к успешному сценарию.
func (m *MockGateway) Succeed() *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Result = nil
	return m
}

// Authorize возвращает настроенный результат и считает вызовы.
func (m *MockGateway) Authorize(ctx context.Context, order domain.Order, _ domain.PaymentMethod, amountMinor int64) domain.PaymentResult {
	m.mu.Lock()
	m.Calls++
	m.LastAmount = amountMinor
	m.LastOrderID = order.ID
	delay := m.Delay
	var result *domain.PaymentResult
	if m.Result != nil {
		r := *m.Result
		result = &r
	}
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return domain.PaymentResult{Err: &domain.PaymentError{Transient: true, Message: ctx.Err().Error()}}
		}
	}

	if result != nil {
		return *result
	}
	return domain.PaymentResult{Success: true, ExternalID: "mock-" + uuid.NewString()}
}

// CallCount возвращает число вызовов Authorize.
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
