package gateway

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/revmark-backend/internal/logger"
	"github.com/ignatzorin/revmark-backend/internal/pkg/apperror"
)

// Guard ограничивает каждый вызов шлюза таймаутом и переводит ошибки в apperror:
// таймаут - GATEWAY_TIMEOUT, отказ банка - PAYMENT_DECLINED,
// неверная подпись - INVALID_SIGNATURE, неразбираемое событие - VALIDATION_ERROR,
// остальное - GATEWAY_UNAVAILABLE.
type Guard struct {
	next    PaymentGateway
	timeout time.Duration
}

// NewGuard оборачивает шлюз.
func NewGuard(next PaymentGateway, timeout time.Duration) *Guard {
	return &Guard{next: next, timeout: timeout}
}

func (g *Guard) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	err := fn(ctx)
	if err == nil {
		return nil
	}

	classified := classify(op, err)
	logger.L().WithFields(logrus.Fields{
		"op":       op,
		"duration": time.Since(started).String(),
		"code":     classified.Code,
	}).WithError(err).Warn("payment gateway call failed")

	return classified
}

func classify(op string, err error) *apperror.AppError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return apperror.Wrap(err, apperror.ErrCodeGatewayTimeout, "платёжный шлюз не ответил вовремя, повторите попытку")
	case errors.Is(err, ErrDeclined):
		return apperror.Wrap(err, apperror.ErrCodePaymentDeclined, "платёж отклонён")
	case errors.Is(err, ErrInvalidSignature):
		return apperror.Wrap(err, apperror.ErrCodeInvalidSignature, "неверная подпись события")
	case errors.Is(err, ErrMalformedEvent):
		return apperror.Wrap(err, apperror.ErrCodeValidation, "событие шлюза не удалось разобрать")
	case errors.Is(err, ErrInvalidRequest):
		return apperror.Wrap(err, apperror.ErrCodeGatewayUnavailable, "платёжный шлюз отклонил запрос: "+op)
	default:
		return apperror.Wrap(err, apperror.ErrCodeGatewayUnavailable, "платёжный шлюз недоступен")
	}
}

func (g *Guard) CreatePayment(ctx context.Context, in CreatePaymentInput) (*PaymentAuthorization, error) {
	var out *PaymentAuthorization
	err := g.call(ctx, "create_payment", func(ctx context.Context) error {
		var err error
		out, err = g.next.CreatePayment(ctx, in)
		return err
	})
	return out, err
}

func (g *Guard) GetPayment(ctx context.Context, reference string) (*PaymentState, error) {
	var out *PaymentState
	err := g.call(ctx, "get_payment", func(ctx context.Context) error {
		var err error
		out, err = g.next.GetPayment(ctx, reference)
		return err
	})
	return out, err
}

func (g *Guard) CancelPayment(ctx context.Context, reference string) error {
	return g.call(ctx, "cancel_payment", func(ctx context.Context) error {
		return g.next.CancelPayment(ctx, reference)
	})
}

func (g *Guard) Transfer(ctx context.Context, in TransferInput) (*Transfer, error) {
	var out *Transfer
	err := g.call(ctx, "transfer", func(ctx context.Context) error {
		var err error
		out, err = g.next.Transfer(ctx, in)
		return err
	})
	return out, err
}

func (g *Guard) Refund(ctx context.Context, in RefundInput) (*Refund, error) {
	var out *Refund
	err := g.call(ctx, "refund", func(ctx context.Context) error {
		var err error
		out, err = g.next.Refund(ctx, in)
		return err
	})
	return out, err
}

func (g *Guard) CreateAccount(ctx context.Context, in CreateAccountInput) (string, error) {
	var out string
	err := g.call(ctx, "create_account", func(ctx context.Context) error {
		var err error
		out, err = g.next.CreateAccount(ctx, in)
		return err
	})
	return out, err
}

func (g *Guard) GetAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error) {
	var out *AccountStatus
	err := g.call(ctx, "get_account", func(ctx context.Context) error {
		var err error
		out, err = g.next.GetAccountStatus(ctx, accountID)
		return err
	})
	return out, err
}

func (g *Guard) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (*OnboardingLink, error) {
	var out *OnboardingLink
	err := g.call(ctx, "create_onboarding_link", func(ctx context.Context) error {
		var err error
		out, err = g.next.CreateOnboardingLink(ctx, accountID, refreshURL, returnURL)
		return err
	})
	return out, err
}

// VerifyWebhook не обращается к сети, таймаут не нужен.
func (g *Guard) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	event, err := g.next.VerifyWebhook(payload, signature)
	if err != nil {
		return nil, classify("verify_webhook", err)
	}
	return event, nil
}
