package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/revmark-backend/internal/domain/valueobject"
	"github.com/ignatzorin/revmark-backend/internal/gateway"
	"github.com/ignatzorin/revmark-backend/internal/logger"
	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/pkg/apperror"
	"github.com/ignatzorin/revmark-backend/internal/repository"
	"github.com/ignatzorin/revmark-backend/internal/repository/common"
)

// EscrowRepository - хранилище попыток оплаты и переходов статусов.
type EscrowRepository interface {
	CreateAttempt(ctx context.Context, p *models.EscrowPayment) error
	AttachReference(ctx context.Context, paymentID uuid.UUID, reference string) error
	MarkFailed(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error)
	RecordDecline(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error)
	GetByReference(ctx context.Context, reference string) (*models.EscrowPayment, error)
	ConfirmFunding(ctx context.Context, paymentID uuid.UUID) (bool, error)
	CompleteRelease(ctx context.Context, paymentID, requestID uuid.UUID, transferID string, completedAt time.Time) error
	CompleteRefund(ctx context.Context, paymentID, requestID uuid.UUID, refundID string, refundedAt time.Time) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.EscrowPayment, error)
	ListPending(ctx context.Context, requestID uuid.UUID) ([]models.EscrowPayment, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.EscrowPayment, error)
	FailAbandonedAttempts(ctx context.Context, before time.Time) (int64, error)
}

// RequestReader читает заявки.
type RequestReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Request, error)
}

// UserReader читает пользователей.
type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// EscrowNotifier получает события escrow после успешной фиксации перехода.
// Реализация не должна блокировать вызывающего и не возвращает ошибок.
type EscrowNotifier interface {
	FundingInitiated(req *models.Request, payment *models.EscrowPayment)
	Funded(req *models.Request, payment *models.EscrowPayment)
	FundingFailed(req *models.Request, payment *models.EscrowPayment, reason string)
	Released(req *models.Request, payment *models.EscrowPayment)
	Refunded(req *models.Request, payment *models.EscrowPayment)
}

// EscrowConfig - параметры комиссии и валюты.
type EscrowConfig struct {
	FeePercent decimal.Decimal
	Currency   string
}

// InitiateFundingInput - запрос покупателя на оплату заявки.
type InitiateFundingInput struct {
	RequestID uuid.UUID
	BuyerID   uuid.UUID
	SellerID  *uuid.UUID
	Amount    valueobject.Money
}

// InitiateFundingResult - данные для подтверждения оплаты на клиенте.
type InitiateFundingResult struct {
	PaymentID    uuid.UUID         `json:"payment_id"`
	ClientSecret string            `json:"client_secret"`
	Amount       valueobject.Money `json:"amount"`
	PlatformFee  valueobject.Money `json:"platform_fee"`
	SellerAmount valueobject.Money `json:"seller_amount"`
}

// ReleaseResult - результат выплаты продавцу.
type ReleaseResult struct {
	TransferID        string            `json:"transfer_id"`
	AmountTransferred valueobject.Money `json:"amount_transferred"`
	PlatformFee       valueobject.Money `json:"platform_fee"`
}

// RefundResult - результат возврата покупателю.
type RefundResult struct {
	RefundID       string            `json:"refund_id"`
	AmountRefunded valueobject.Money `json:"amount_refunded"`
	Status         string            `json:"status"`
}

// ReconcileReport - итог одного прохода сверки.
type ReconcileReport struct {
	Checked   int   `json:"checked"`
	Confirmed int   `json:"confirmed"`
	Failed    int   `json:"failed"`
	Pending   int   `json:"pending"`
	Abandoned int64 `json:"abandoned"`
	Errors    int   `json:"errors"`
}

const reconcileBatch = 100

// EscrowService координирует статусы заявки и платежа с вызовами платёжного шлюза.
// Локальное состояние меняется только после успешного ответа шлюза,
// каждое изменение - одна транзакция с условным переходом статуса.
type EscrowService struct {
	payments EscrowRepository
	requests RequestReader
	users    UserReader
	gateway  gateway.PaymentGateway
	notifier EscrowNotifier
	cfg      EscrowConfig
	now      func() time.Time
}

// NewEscrowService создаёт координатор escrow.
func NewEscrowService(
	payments EscrowRepository,
	requests RequestReader,
	users UserReader,
	gw gateway.PaymentGateway,
	notifier EscrowNotifier,
	cfg EscrowConfig,
) *EscrowService {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &EscrowService{
		payments: payments,
		requests: requests,
		users:    users,
		gateway:  gw,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// InitiateFunding создаёт авторизацию платежа в шлюзе. Статус заявки не меняется:
// перевод в funded выполняет только асинхронное подтверждение шлюза.
func (s *EscrowService) InitiateFunding(ctx context.Context, in InitiateFundingInput) (*InitiateFundingResult, error) {
	if !in.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount
	}

	req, err := s.loadRequest(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if !req.IsBuyer(in.BuyerID) {
		return nil, apperror.ErrNotBuyer
	}
	if !req.Status.CanTransitionTo(valueobject.RequestStatusFunded) {
		return nil, apperror.ErrStatusConflict
	}

	sellerID := in.SellerID
	if sellerID == nil {
		sellerID = req.SellerID
	}
	if sellerID == nil {
		return nil, apperror.ErrNoSeller
	}
	if *sellerID == req.BuyerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "покупатель не может быть продавцом своей заявки")
	}
	if _, err := s.loadUser(ctx, *sellerID); err != nil {
		return nil, err
	}

	fee, payout, err := valueobject.SplitFee(in.Amount, s.cfg.FeePercent)
	if err != nil {
		return nil, err
	}

	if err := s.CancelPendingAttempts(ctx, req.ID, "superseded by a new funding attempt"); err != nil {
		return nil, err
	}

	attempt := &models.EscrowPayment{
		RequestID:    req.ID,
		BuyerID:      req.BuyerID,
		SellerID:     sellerID,
		Amount:       in.Amount,
		PlatformFee:  fee,
		SellerAmount: payout,
		Currency:     s.cfg.Currency,
	}
	if err := s.payments.CreateAttempt(ctx, attempt); err != nil {
		if errors.Is(err, common.ErrStatusConflict) {
			return nil, apperror.ErrStatusConflict
		}
		if errors.Is(err, repository.ErrPendingAttemptExists) {
			return nil, apperror.ErrPaymentInFlight
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось создать платёж")
	}

	log := logger.L().WithFields(logrus.Fields{
		"request_id": req.ID,
		"payment_id": attempt.ID,
		"amount":     in.Amount.String(),
		"fee":        fee.String(),
	})

	auth, err := s.gateway.CreatePayment(ctx, gateway.CreatePaymentInput{
		Amount:         in.Amount,
		Currency:       s.cfg.Currency,
		Description:    fmt.Sprintf("RevMark Request #%s Payment", req.ID),
		IdempotencyKey: "fund-" + attempt.ID.String(),
		Metadata: map[string]string{
			"request_id":        req.ID.String(),
			"buyer_id":          req.BuyerID.String(),
			"seller_id":         sellerID.String(),
			"platform_fee":      fee.String(),
			"escrow_payment_id": attempt.ID.String(),
		},
	})
	if err != nil {
		if _, markErr := s.payments.MarkFailed(context.WithoutCancel(ctx), attempt.ID, err.Error()); markErr != nil {
			log.WithError(markErr).Error("не удалось пометить попытку оплаты как failed")
		}
		log.WithError(err).Warn("шлюз отклонил создание платежа")
		return nil, err
	}

	log = log.WithField("payment_ref", auth.Reference)
	if err := s.payments.AttachReference(ctx, attempt.ID, auth.Reference); err != nil {
		if _, markErr := s.payments.MarkFailed(context.WithoutCancel(ctx), attempt.ID, "reference not stored: "+err.Error()); markErr != nil {
			log.WithError(markErr).Error("не удалось пометить попытку оплаты как failed")
		}
		if errors.Is(err, common.ErrStatusConflict) {
			log.Warn("заявка изменила статус во время создания платежа")
			return nil, apperror.ErrStatusConflict
		}
		log.WithError(err).Error("платёж создан в шлюзе, но ссылка не сохранена: требуется сверка")
		return nil, apperror.Wrap(err, apperror.ErrCodeInconsistentState, "платёж создан, но не сохранён; обратитесь в поддержку")
	}

	ref := auth.Reference
	attempt.PaymentIntentID = &ref
	log.Info("escrow: попытка оплаты создана")

	s.notifier.FundingInitiated(req, attempt)

	return &InitiateFundingResult{
		PaymentID:    attempt.ID,
		ClientSecret: auth.ClientSecret,
		Amount:       attempt.Amount,
		PlatformFee:  attempt.PlatformFee,
		SellerAmount: attempt.SellerAmount,
	}, nil
}

// ConfirmFunding применяет успешное подтверждение шлюза. Повторы не меняют состояние.
// Возвращает true, если переход выполнен этим вызовом.
func (s *EscrowService) ConfirmFunding(ctx context.Context, reference string) (bool, error) {
	payment, err := s.loadPaymentByReference(ctx, reference)
	if err != nil {
		return false, err
	}

	log := logger.L().WithFields(logrus.Fields{
		"request_id":  payment.RequestID,
		"payment_id":  payment.ID,
		"payment_ref": reference,
	})

	applied, err := s.payments.ConfirmFunding(ctx, payment.ID)
	if err != nil {
		if errors.Is(err, common.ErrStatusConflict) {
			log.Error("платёж подтверждён шлюзом, но заявка уже не open: требуется ручной возврат")
			return false, apperror.Wrap(err, apperror.ErrCodeInconsistentState, "заявка уже не ожидает оплаты")
		}
		return false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось подтвердить оплату")
	}
	if !applied {
		log.WithField("status", payment.Status).Debug("escrow: повторное подтверждение оплаты пропущено")
		return false, nil
	}

	log.WithField("status", valueobject.RequestStatusFunded).Info("escrow: заявка оплачена")

	req, err := s.loadRequest(ctx, payment.RequestID)
	if err != nil {
		log.WithError(err).Warn("не удалось перечитать заявку для уведомления")
		return true, nil
	}
	payment.Status = valueobject.PaymentStatusPaid
	s.notifier.Funded(req, payment)

	return true, nil
}

// RecordDecline сохраняет причину отклонённого списания. Попытка остаётся pending:
// покупатель может повторить оплату тем же платежом, и последующее подтверждение шлюза будет применено.
func (s *EscrowService) RecordDecline(ctx context.Context, reference, reason string) error {
	payment, err := s.loadPaymentByReference(ctx, reference)
	if err != nil {
		return err
	}

	applied, err := s.payments.RecordDecline(ctx, payment.ID, reason)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить отказ списания")
	}

	log := logger.L().WithFields(logrus.Fields{
		"request_id":  payment.RequestID,
		"payment_id":  payment.ID,
		"payment_ref": reference,
		"reason":      reason,
	})
	if !applied {
		log.WithField("status", payment.Status).Debug("escrow: отказ списания для закрытой попытки пропущен")
		return nil
	}
	log.Warn("escrow: списание отклонено, ожидается повтор")

	if req, err := s.loadRequest(ctx, payment.RequestID); err == nil {
		payment.FailureReason = &reason
		s.notifier.FundingFailed(req, payment, reason)
	}
	return nil
}

// CancelPendingAttempts отменяет в шлюзе и закрывает все pending попытки оплаты заявки.
// Если шлюз уже провёл списание, подтверждает оплату и возвращает ErrAlreadyPaid.
func (s *EscrowService) CancelPendingAttempts(ctx context.Context, requestID uuid.UUID, reason string) error {
	pending, err := s.payments.ListPending(ctx, requestID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить активные платежи")
	}

	for i := range pending {
		payment := &pending[i]
		log := logger.L().WithFields(logrus.Fields{
			"request_id": requestID,
			"payment_id": payment.ID,
		})

		if ref := payment.Reference(); ref != "" {
			log = log.WithField("payment_ref", ref)
			if err := s.gateway.CancelPayment(ctx, ref); err != nil {
				if err := s.settleUncancellable(ctx, log, ref, err); err != nil {
					return err
				}
			}
		}

		if _, err := s.payments.MarkFailed(ctx, payment.ID, reason); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось закрыть попытку оплаты")
		}
		log.WithField("reason", reason).Info("escrow: попытка оплаты отменена")
	}
	return nil
}

// settleUncancellable выясняет у шлюза, почему платёж не отменился.
// nil означает, что платёж уже закрыт в шлюзе и попытку можно пометить failed.
func (s *EscrowService) settleUncancellable(ctx context.Context, log *logrus.Entry, reference string, cancelErr error) error {
	state, err := s.gateway.GetPayment(ctx, reference)
	if err != nil {
		log.WithError(cancelErr).Warn("escrow: не удалось отменить платёж в шлюзе")
		return cancelErr
	}

	switch state.Outcome {
	case gateway.OutcomeFailed:
		return nil
	case gateway.OutcomeSucceeded:
		log.Warn("escrow: платёж уже проведён шлюзом, отмена невозможна")
		if _, err := s.ConfirmFunding(ctx, reference); err != nil {
			return err
		}
		return apperror.ErrAlreadyPaid
	default:
		log.WithError(cancelErr).Warn("escrow: не удалось отменить платёж в шлюзе")
		return cancelErr
	}
}

// FailFunding фиксирует отказ шлюза по платежу. Заявка остаётся open,
// повторная оплата - ответственность покупателя.
func (s *EscrowService) FailFunding(ctx context.Context, reference, reason string) (bool, error) {
	payment, err := s.loadPaymentByReference(ctx, reference)
	if err != nil {
		return false, err
	}

	applied, err := s.payments.MarkFailed(ctx, payment.ID, reason)
	if err != nil {
		return false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось отметить отказ оплаты")
	}

	log := logger.L().WithFields(logrus.Fields{
		"request_id":  payment.RequestID,
		"payment_id":  payment.ID,
		"payment_ref": reference,
		"reason":      reason,
	})
	if !applied {
		log.WithField("status", payment.Status).Debug("escrow: отказ оплаты для неактивной попытки пропущен")
		return false, nil
	}
	log.Warn("escrow: оплата не прошла")

	if req, err := s.loadRequest(ctx, payment.RequestID); err == nil {
		payment.Status = valueobject.PaymentStatusFailed
		s.notifier.FundingFailed(req, payment, reason)
	}

	return true, nil
}

// Release переводит продавцу его долю. При ошибке шлюза состояние не меняется.
func (s *EscrowService) Release(ctx context.Context, requestID, callerID uuid.UUID) (*ReleaseResult, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsBuyer(callerID) {
		return nil, apperror.ErrNotBuyer
	}
	if !req.Status.CanTransitionTo(valueobject.RequestStatusCompleted) {
		return nil, apperror.ErrStatusConflict
	}
	if req.SellerID == nil {
		return nil, apperror.ErrNoSeller
	}

	seller, err := s.loadUser(ctx, *req.SellerID)
	if err != nil {
		return nil, err
	}
	if !seller.IsVerifiedSeller() {
		return nil, apperror.ErrSellerUnverified
	}

	payment, err := s.heldPayment(ctx, req)
	if err != nil {
		return nil, err
	}

	log := logger.L().WithFields(logrus.Fields{
		"request_id":  req.ID,
		"payment_id":  payment.ID,
		"payment_ref": payment.Reference(),
	})

	transfer, err := s.gateway.Transfer(ctx, gateway.TransferInput{
		Amount:         payment.SellerAmount,
		Currency:       payment.Currency,
		Destination:    *seller.StripeAccountID,
		TransferGroup:  payment.Reference(),
		IdempotencyKey: "release-" + payment.ID.String(),
	})
	if err != nil {
		log.WithError(err).Warn("escrow: перевод продавцу не выполнен")
		return nil, err
	}

	log = log.WithField("transfer_id", transfer.Reference)
	if err := s.payments.CompleteRelease(ctx, payment.ID, req.ID, transfer.Reference, s.now().UTC()); err != nil {
		return nil, s.commitFailure(ctx, log, err, payment.Reference(), valueobject.PaymentStatusCompleted)
	}

	log.WithField("status", valueobject.RequestStatusCompleted).Info("escrow: средства переведены продавцу")

	ref := transfer.Reference
	req.Status = valueobject.RequestStatusCompleted
	req.TransferID = &ref
	payment.Status = valueobject.PaymentStatusCompleted
	payment.TransferID = &ref
	s.notifier.Released(req, payment)

	return &ReleaseResult{
		TransferID:        transfer.Reference,
		AmountTransferred: payment.SellerAmount,
		PlatformFee:       payment.PlatformFee,
	}, nil
}

// Refund возвращает покупателю всю сумму и отменяет заявку.
func (s *EscrowService) Refund(ctx context.Context, requestID, callerID uuid.UUID, reason string) (*RefundResult, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsBuyer(callerID) {
		return nil, apperror.ErrNotBuyer
	}
	if !req.Status.IsRefundable() {
		return nil, apperror.ErrStatusConflict
	}

	payment, err := s.heldPayment(ctx, req)
	if err != nil {
		return nil, err
	}

	log := logger.L().WithFields(logrus.Fields{
		"request_id":  req.ID,
		"payment_id":  payment.ID,
		"payment_ref": payment.Reference(),
	})

	refund, err := s.gateway.Refund(ctx, gateway.RefundInput{
		PaymentReference: payment.Reference(),
		Reason:           reason,
		IdempotencyKey:   "refund-" + payment.ID.String(),
	})
	if err != nil {
		log.WithError(err).Warn("escrow: возврат не выполнен")
		return nil, err
	}

	log = log.WithField("refund_id", refund.Reference)
	if err := s.payments.CompleteRefund(ctx, payment.ID, req.ID, refund.Reference, s.now().UTC()); err != nil {
		return nil, s.commitFailure(ctx, log, err, payment.Reference(), valueobject.PaymentStatusRefunded)
	}

	log.WithField("status", valueobject.RequestStatusCancelled).Info("escrow: средства возвращены покупателю")

	ref := refund.Reference
	req.Status = valueobject.RequestStatusCancelled
	payment.Status = valueobject.PaymentStatusRefunded
	payment.RefundID = &ref
	s.notifier.Refunded(req, payment)

	amount := refund.Amount
	if amount == 0 {
		amount = payment.Amount
	}
	return &RefundResult{
		RefundID:       refund.Reference,
		AmountRefunded: amount,
		Status:         refund.Status,
	}, nil
}

// History возвращает все попытки оплаты заявки в порядке создания.
func (s *EscrowService) History(ctx context.Context, requestID, callerID uuid.UUID) ([]models.EscrowPayment, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsParticipant(callerID) {
		return nil, apperror.ErrNotParticipant
	}

	payments, err := s.payments.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить историю платежей")
	}
	return payments, nil
}

// Reconcile сверяет зависшие pending платежи со шлюзом.
func (s *EscrowService) Reconcile(ctx context.Context, olderThan time.Duration) (*ReconcileReport, error) {
	before := s.now().Add(-olderThan)
	report := &ReconcileReport{}

	abandoned, err := s.payments.FailAbandonedAttempts(ctx, before)
	if err != nil {
		return nil, err
	}
	report.Abandoned = abandoned

	stale, err := s.payments.ListStalePending(ctx, before, reconcileBatch)
	if err != nil {
		return nil, err
	}

	for i := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		payment := &stale[i]
		report.Checked++

		log := logger.L().WithFields(logrus.Fields{
			"request_id":  payment.RequestID,
			"payment_id":  payment.ID,
			"payment_ref": payment.Reference(),
		})

		state, err := s.gateway.GetPayment(ctx, payment.Reference())
		if err != nil {
			report.Errors++
			log.WithError(err).Warn("reconcile: не удалось получить статус платежа")
			continue
		}

		switch state.Outcome {
		case gateway.OutcomeSucceeded:
			if _, err := s.ConfirmFunding(ctx, payment.Reference()); err != nil {
				report.Errors++
				log.WithError(err).Error("reconcile: не удалось подтвердить оплату")
				continue
			}
			report.Confirmed++
		case gateway.OutcomeFailed:
			if _, err := s.FailFunding(ctx, payment.Reference(), state.FailureReason); err != nil {
				report.Errors++
				log.WithError(err).Error("reconcile: не удалось отметить отказ")
				continue
			}
			report.Failed++
		default:
			report.Pending++
		}
	}

	return report, nil
}

// heldPayment находит активную попытку оплаты заявки по её ссылке шлюза.
func (s *EscrowService) heldPayment(ctx context.Context, req *models.Request) (*models.EscrowPayment, error) {
	if req.PaymentIntentID == nil || *req.PaymentIntentID == "" {
		logger.L().WithField("request_id", req.ID).Error("оплаченная заявка без ссылки на платёж")
		return nil, apperror.New(apperror.ErrCodeInconsistentState, "у заявки нет ссылки на платёж")
	}

	payment, err := s.loadPaymentByReference(ctx, *req.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if !payment.Status.IsHeld() {
		return nil, apperror.ErrStatusConflict
	}
	return payment, nil
}

// commitFailure разбирает ошибку фиксации после успешного вызова шлюза.
// Если параллельный запрос уже зафиксировал тот же переход, это конфликт, а не рассинхронизация.
func (s *EscrowService) commitFailure(ctx context.Context, log *logrus.Entry, err error, reference string, target valueobject.PaymentStatus) error {
	if errors.Is(err, common.ErrStatusConflict) {
		current, getErr := s.payments.GetByReference(context.WithoutCancel(ctx), reference)
		if getErr == nil && current.Status == target {
			log.Info("escrow: переход уже выполнен параллельным запросом")
			return apperror.ErrStatusConflict
		}
	}

	log.WithError(err).Error("шлюз выполнил операцию, но локальная фиксация не удалась: требуется сверка")
	return apperror.Wrap(err, apperror.ErrCodeInconsistentState, "операция выполнена в шлюзе, но не сохранена; обратитесь в поддержку")
}

func (s *EscrowService) loadRequest(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrRequestNotFound) {
			return nil, apperror.ErrRequestNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось загрузить заявку")
	}
	return req, nil
}

func (s *EscrowService) loadUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось загрузить пользователя")
	}
	return user, nil
}

func (s *EscrowService) loadPaymentByReference(ctx context.Context, reference string) (*models.EscrowPayment, error) {
	payment, err := s.payments.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, apperror.ErrPaymentNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось загрузить платёж")
	}
	return payment, nil
}
