package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrConcurrentModification — retry по конфликту версий или ожидание блокировки исчерпаны.
	ErrConcurrentModification = errors.New("order is being modified concurrently, please try again")
	// ErrOrderCompleted — заказ завершён и не принимает изменений.
	ErrOrderCompleted = errors.New("order is already complete")
	// ErrOrderCanceled — заказ отменён, отмена окончательна.
	ErrOrderCanceled = errors.New("order is canceled")
	// ErrOrderNotBound — у заказа нет хаба или окна продаж.
	ErrOrderNotBound = errors.New("order is not bound to a hub and order cycle")
	// ErrMalformedOrder — сохранённое состояние заказа невозможно согласовать.
	ErrMalformedOrder = errors.New("malformed order state")

	// ErrNoSuchHub — хаб не найден или не является распределителем.
	ErrNoSuchHub = errors.New("no such hub")
	// ErrWindowClosed — окно продаж закрыто или не относится к хабу.
	ErrWindowClosed = errors.New("order cycle is closed")
	// ErrOrderCycleNotFound — окно продаж не найдено.
	ErrOrderCycleNotFound = errors.New("order cycle not found")

	// ErrLineItemNotFound — позиция не найдена в заказе.
	ErrLineItemNotFound = errors.New("line item not found")
	// ErrLineItemQtyInvalid — количество отрицательное.
	ErrLineItemQtyInvalid = errors.New("line item quantity must not be negative")
	// ErrVariantNotFound — вариант товара не найден в каталоге.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrVariantUnavailable — вариант не распространяется через хаб в текущем окне.
	ErrVariantUnavailable = errors.New("variant is not available in this order cycle")
	// ErrInsufficientStock — запрошено больше, чем есть на складе.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStockRecordNotFound — нет ни базовой записи, ни переопределения хаба.
	ErrStockRecordNotFound = errors.New("stock record not found")

	// ErrEnterpriseNotFound — предприятие не найдено в каталоге.
	ErrEnterpriseNotFound = errors.New("enterprise not found")
	// ErrEnterpriseFeeNotFound — сбор не найден в каталоге.
	ErrEnterpriseFeeNotFound = errors.New("enterprise fee not found")
	// ErrShippingMethodNotFound — способ доставки не найден.
	ErrShippingMethodNotFound = errors.New("shipping method not found")
	// ErrPaymentMethodNotFound — способ оплаты не найден.
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	// ErrCustomerNotFound — покупатель не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrAdjustmentNotFound — корректировка не найдена в заказе.
	ErrAdjustmentNotFound = errors.New("adjustment not found")
	// ErrUnknownCalculator — неизвестный тип калькулятора.
	ErrUnknownCalculator = errors.New("unknown calculator type")

	// ErrVoucherCodeBlank — код ваучера пустой.
	ErrVoucherCodeBlank = errors.New("voucher code is blank")
	// ErrVoucherNotFound — ваучер с таким кодом не существует.
	ErrVoucherNotFound = errors.New("voucher not found")
	// ErrVoucherInvalid — ваучер просрочен, неактивен или принадлежит другому предприятию.
	ErrVoucherInvalid = errors.New("voucher is not valid for this order")

	// ErrInvalidCheckoutState — неизвестное имя шага оформления.
	ErrInvalidCheckoutState = errors.New("invalid checkout state")
	// ErrStateSkipped — попытка перепрыгнуть через шаг оформления.
	ErrStateSkipped = errors.New("checkout state cannot be skipped")

	// ErrPaymentDeclined — платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentTemporary — временная ошибка платёжного провайдера, можно повторить.
	ErrPaymentTemporary = errors.New("payment temporary error")
	// ErrPaymentRequiresRedirect — провайдер требует подтверждения на своей стороне.
	ErrPaymentRequiresRedirect = errors.New("payment requires redirect")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsRetryable сообщает, можно ли безопасно повторить операцию целиком.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrPaymentTemporary)
}

// ErrorKind — класс ошибки, по которому транспорты выбирают код ответа.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalid
	KindNotFound
	KindPrecondition
	KindConflict
	KindUnavailable
	KindDuplicate
	KindCanceled
	KindTimeout
)

var errorKinds = []struct {
	kind ErrorKind
	errs []error
}{
	{KindInvalid, []error{ErrOrderIDRequired, ErrInvalidCheckoutState, ErrLineItemQtyInvalid,
		ErrVoucherCodeBlank, ErrIdempotencyKeyRequired}},
	{KindNotFound, []error{ErrOrderNotFound, ErrLineItemNotFound, ErrAdjustmentNotFound,
		ErrVoucherNotFound, ErrCustomerNotFound, ErrNoSuchHub, ErrOrderCycleNotFound,
		ErrVariantNotFound, ErrEnterpriseNotFound, ErrShippingMethodNotFound, ErrPaymentMethodNotFound}},
	{KindPrecondition, []error{ErrOrderCompleted, ErrOrderCanceled, ErrOrderNotBound,
		ErrWindowClosed, ErrStateSkipped, ErrVoucherInvalid, ErrVariantUnavailable,
		ErrInsufficientStock, ErrPaymentDeclined, ErrPaymentRequiresRedirect}},
	{KindConflict, []error{ErrConcurrentModification, ErrOrderVersionConflict}},
	{KindUnavailable, []error{ErrPaymentTemporary}},
	{KindDuplicate, []error{ErrIdempotencyHashMismatch}},
	{KindCanceled, []error{context.Canceled}},
	{KindTimeout, []error{context.DeadlineExceeded}},
}

// KindOf классифицирует ошибку. GuardError и StockError — KindPrecondition.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	var guardErr *GuardError
	if errors.As(err, &guardErr) {
		return KindPrecondition
	}
	for _, group := range errorKinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindInternal
}

// GuardError описывает нарушенное условие входа в шаг оформления.
// Заказ при этом остаётся в последнем корректном состоянии.
type GuardError struct {
	State    CheckoutState
	Redirect CheckoutState
	// RedirectTo — "cart" или "shop", если покупателя нужно вернуть в витрину.
	RedirectTo string
	Flash      string
	Fields     map[string]string
	// WindowClosesAt — время закрытия окна продаж, чтобы UI мог объяснить причину.
	WindowClosesAt *time.Time
}

func (e *GuardError) Error() string {
	msg := fmt.Sprintf("cannot enter %s", e.State)
	if e.Flash != "" {
		msg += ": " + e.Flash
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+" "+e.Fields[k])
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	return msg
}

// StockError перечисляет варианты, по которым не хватило остатков.
type StockError struct {
	Lines []StockShortage
}

// StockShortage — одна строка отказа: запрошено и доступно.
type StockShortage struct {
	VariantID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		parts = append(parts, fmt.Sprintf("%s requested %d available %d", l.VariantID, l.Requested, l.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// PaymentError — результат неудачной авторизации.
type PaymentError struct {
	Transient bool
	Message   string
}

func (e *PaymentError) Error() string {
	if e.Transient {
		return "payment gateway unavailable: " + e.Message
	}
	return "payment failed: " + e.Message
}

func (e *PaymentError) Unwrap() error {
	if e.Transient {
		return ErrPaymentTemporary
	}
	return ErrPaymentDeclined
}
