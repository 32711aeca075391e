package valueobject

// RequestStatus - статус заявки покупателя.
type RequestStatus string

const (
	RequestStatusOpen       RequestStatus = "open"
	RequestStatusFunded     RequestStatus = "funded"
	RequestStatusInProgress RequestStatus = "in_progress"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusCancelled  RequestStatus = "cancelled"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusOpen:       {RequestStatusFunded, RequestStatusCancelled},
	RequestStatusFunded:     {RequestStatusCompleted, RequestStatusCancelled},
	RequestStatusInProgress: {RequestStatusCancelled},
	RequestStatusCompleted:  {},
	RequestStatusCancelled:  {},
}

// CanTransitionTo сообщает, разрешён ли переход заявки в статус next.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, status := range requestTransitions[s] {
		if status == next {
			return true
		}
	}
	return false
}

// IsRefundable сообщает, что по заявке можно вернуть средства покупателю.
// Открытую заявку отменяют без возврата, поэтому она сюда не входит.
func (s RequestStatus) IsRefundable() bool {
	return s != RequestStatusOpen && s.CanTransitionTo(RequestStatusCancelled)
}

// IsCancellable сообщает, что покупатель может отменить заявку без возврата средств.
func (s RequestStatus) IsCancellable() bool {
	return !s.IsRefundable() && s.CanTransitionTo(RequestStatusCancelled)
}

// PaymentStatus - статус попытки оплаты.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// failed -> paid: шлюз подтвердил списание уже после того, как попытка была закрыта локально.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCompleted, PaymentStatusRefunded},
	PaymentStatusPaid:      {PaymentStatusCompleted, PaymentStatusRefunded},
	PaymentStatusFailed:    {PaymentStatusPaid},
	PaymentStatusCompleted: {},
	PaymentStatusRefunded:  {},
}

// CanTransitionTo сообщает, разрешён ли переход платежа в статус next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, status := range paymentTransitions[s] {
		if status == next {
			return true
		}
	}
	return false
}

// IsHeld сообщает, что средства платежа ещё удерживаются платформой.
func (s PaymentStatus) IsHeld() bool {
	for _, held := range HeldPaymentStatuses() {
		if s == held {
			return true
		}
	}
	return false
}

// HeldPaymentStatuses возвращает статусы, из которых возможны выплата и возврат.
func HeldPaymentStatuses() []PaymentStatus {
	return []PaymentStatus{PaymentStatusPending, PaymentStatusPaid}
}
