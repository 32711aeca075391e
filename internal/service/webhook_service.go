package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/revmark-backend/internal/gateway"
	"github.com/ignatzorin/revmark-backend/internal/logger"
	"github.com/ignatzorin/revmark-backend/internal/pkg/apperror"
)

const webhookProvider = "stripe"

// WebhookEventStore фиксирует обработанные события шлюза.
type WebhookEventStore interface {
	Register(ctx context.Context, provider, eventID, eventType string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) error
}

// FundingHandler применяет результат оплаты.
type FundingHandler interface {
	ConfirmFunding(ctx context.Context, reference string) (bool, error)
	RecordDecline(ctx context.Context, reference, reason string) error
	FailFunding(ctx context.Context, reference, reason string) (bool, error)
}

// AccountHandler применяет изменения подключённого аккаунта.
type AccountHandler interface {
	HandleAccountUpdated(ctx context.Context, status *gateway.AccountStatus) error
}

// WebhookService проверяет и применяет уведомления платёжного шлюза.
type WebhookService struct {
	gateway  gateway.PaymentGateway
	events   WebhookEventStore
	funding  FundingHandler
	accounts AccountHandler
}

// NewWebhookService создаёт обработчик вебхуков.
func NewWebhookService(gw gateway.PaymentGateway, events WebhookEventStore, funding FundingHandler, accounts AccountHandler) *WebhookService {
	return &WebhookService{gateway: gw, events: events, funding: funding, accounts: accounts}
}

// Handle проверяет подпись и применяет событие.
// Ошибка означает, что шлюз должен повторить доставку. Ошибки предметной области
// (неизвестный платёж, рассогласование) логируются, событие считается обработанным.
func (s *WebhookService) Handle(ctx context.Context, payload []byte, signature string) error {
	evt, err := s.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		if apperror.IsValidation(err) {
			// подпись верна, но событие не разобрать: повтор доставки не поможет
			logger.L().WithError(err).Error("webhook: событие не разобрано и пропущено")
			return nil
		}
		return err
	}

	log := logger.L().WithFields(logrus.Fields{
		"event_id":   evt.ID,
		"event_type": evt.Type,
	})
	if evt.PaymentReference != "" {
		log = log.WithField("payment_ref", evt.PaymentReference)
	}

	fresh, err := s.events.Register(ctx, webhookProvider, evt.ID, evt.Type)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось зарегистрировать событие")
	}
	if !fresh {
		log.Debug("webhook: событие уже обработано")
		return nil
	}

	if err := s.apply(ctx, evt); err != nil {
		if retryWebhook(err) {
			log.WithError(err).Warn("webhook: временная ошибка, ждём повторной доставки")
			return err
		}
		log.WithError(err).Error("webhook: событие не применено")
	}

	if err := s.events.MarkProcessed(ctx, webhookProvider, evt.ID); err != nil {
		// повторная доставка безопасна: переходы идемпотентны
		log.WithError(err).Warn("webhook: не удалось отметить событие обработанным")
	}
	return nil
}

func (s *WebhookService) apply(ctx context.Context, evt *gateway.Event) error {
	switch evt.Type {
	case gateway.EventPaymentSucceeded:
		_, err := s.funding.ConfirmFunding(ctx, evt.PaymentReference)
		return err
	case gateway.EventPaymentFailed:
		// списание не прошло, но платёж жив: покупатель может повторить оплату
		return s.funding.RecordDecline(ctx, evt.PaymentReference, evt.FailureReason)
	case gateway.EventPaymentCanceled:
		_, err := s.funding.FailFunding(ctx, evt.PaymentReference, evt.FailureReason)
		return err
	case gateway.EventAccountUpdated:
		return s.accounts.HandleAccountUpdated(ctx, evt.Account)
	default:
		logger.L().WithField("event_type", evt.Type).Debug("webhook: тип события не обрабатывается")
		return nil
	}
}

// retryWebhook отделяет временные сбои от ошибок, которые повтор не исправит.
func retryWebhook(err error) bool {
	appErr, ok := apperror.As(err)
	if !ok {
		return true
	}
	switch appErr.Code {
	case apperror.ErrCodeDatabaseError, apperror.ErrCodeInternal,
		apperror.ErrCodeGatewayTimeout, apperror.ErrCodeGatewayUnavailable:
		return true
	}
	return false
}
