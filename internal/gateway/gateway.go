// Package gateway описывает внешний платёжный шлюз и его реализацию на Stripe Connect.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/ignatzorin/revmark-backend/internal/domain/valueobject"
)

// Типы событий шлюза, которые обрабатывает платформа.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentCanceled  = "payment_intent.canceled"
	EventAccountUpdated   = "account.updated"
)

// Ошибки шлюза. Реализации оборачивают в них ответы провайдера.
var (
	ErrDeclined         = errors.New("gateway: payment declined")
	ErrInvalidRequest   = errors.New("gateway: invalid request")
	ErrUnavailable      = errors.New("gateway: unavailable")
	ErrInvalidSignature = errors.New("gateway: invalid webhook signature")
	// ErrMalformedEvent - подпись верна, но тело события не удалось разобрать.
	// Повторная доставка того же события ничего не изменит.
	ErrMalformedEvent = errors.New("gateway: malformed webhook event")
)

// PaymentOutcome - итоговое состояние платежа с точки зрения шлюза.
type PaymentOutcome string

const (
	OutcomePending   PaymentOutcome = "pending"
	OutcomeSucceeded PaymentOutcome = "succeeded"
	OutcomeFailed    PaymentOutcome = "failed"
)

// CreatePaymentInput - параметры авторизации платежа покупателя.
type CreatePaymentInput struct {
	Amount         valueobject.Money
	Currency       string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentAuthorization - созданный во внешнем шлюзе платёж.
type PaymentAuthorization struct {
	Reference    string
	ClientSecret string
}

// PaymentState - состояние платежа во внешнем шлюзе.
type PaymentState struct {
	Reference     string
	Outcome       PaymentOutcome
	FailureReason string
}

// TransferInput - параметры перевода продавцу.
type TransferInput struct {
	Amount         valueobject.Money
	Currency       string
	Destination    string
	TransferGroup  string
	IdempotencyKey string
}

// Transfer - выполненный перевод.
type Transfer struct {
	Reference string
	Amount    valueobject.Money
}

// RefundInput - параметры полного возврата платежа.
type RefundInput struct {
	PaymentReference string
	Reason           string
	IdempotencyKey   string
}

// Refund - выполненный возврат.
type Refund struct {
	Reference string
	Amount    valueobject.Money
	Status    string
}

// CreateAccountInput - параметры подключённого аккаунта продавца.
type CreateAccountInput struct {
	Email   string
	Country string
}

// AccountStatus - состояние подключённого аккаунта.
type AccountStatus struct {
	AccountID        string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// OnboardingComplete сообщает, что аккаунт может получать выплаты.
func (s AccountStatus) OnboardingComplete() bool {
	return s.ChargesEnabled && s.PayoutsEnabled && s.DetailsSubmitted
}

// OnboardingLink - одноразовая ссылка на анкету подключения.
type OnboardingLink struct {
	URL       string
	ExpiresAt time.Time
}

// Event - проверенное событие вебхука.
type Event struct {
	ID               string
	Type             string
	PaymentReference string
	FailureReason    string
	Account          *AccountStatus
}

// PaymentGateway - операции внешнего платёжного шлюза, которые использует escrow.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, in CreatePaymentInput) (*PaymentAuthorization, error)
	GetPayment(ctx context.Context, reference string) (*PaymentState, error)
	CancelPayment(ctx context.Context, reference string) error
	Transfer(ctx context.Context, in TransferInput) (*Transfer, error)
	Refund(ctx context.Context, in RefundInput) (*Refund, error)
	CreateAccount(ctx context.Context, in CreateAccountInput) (string, error)
	GetAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error)
	CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (*OnboardingLink, error)
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}
