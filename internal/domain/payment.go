package domain

import "time"

// PaymentState описывает состояние платежа по заказу.
type PaymentState string

const (
	// PaymentStateCheckout — платёж создан на шаге подтверждения.
	PaymentStateCheckout PaymentState = "checkout"
	// PaymentStatePending — запрос авторизации отправлен провайдеру.
	PaymentStatePending PaymentState = "pending"
	// PaymentStateRequiresAuthorization — провайдер ждёт подтверждения покупателя (redirect).
	PaymentStateRequiresAuthorization PaymentState = "requires_authorization"
	// PaymentStateCompleted — авторизация получена.
	PaymentStateCompleted PaymentState = "completed"
	// PaymentStateFailed — провайдер отклонил платёж или был недоступен.
	PaymentStateFailed PaymentState = "failed"
	// PaymentStateInvalid — платёж больше не соответствует сумме заказа.
	PaymentStateInvalid PaymentState = "invalid"
)

// Settled — платёж в финальном состоянии и больше не меняется.
func (s PaymentState) Settled() bool {
	switch s {
	case PaymentStateCompleted, PaymentStateFailed, PaymentStateInvalid:
		return true
	default:
		return false
	}
}

// Payment описывает платёж, связанный с заказом.
type Payment struct {
	ID              string
	OrderID         string
	PaymentMethodID string
	AmountMinor     int64
	State           PaymentState
	ExternalID      string // Может быть пустым, если провайдер не возвращает идентификатор.
	RedirectURL     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentResult — трёхзначный ответ шлюза: успех, redirect или ошибка.
type PaymentResult struct {
	Success     bool
	ExternalID  string
	RedirectURL string
	// Err заполнен при отказе; временные ошибки оборачивают ErrPaymentTemporary.
	Err error
}
