package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/revmark-backend/internal/events"
	"github.com/ignatzorin/revmark-backend/internal/goroutine"
	"github.com/ignatzorin/revmark-backend/internal/logger"
	"github.com/ignatzorin/revmark-backend/internal/mailer"
	"github.com/ignatzorin/revmark-backend/internal/models"
)

const notifyTimeout = 30 * time.Second

// Broadcaster доставляет событие пользователю через websocket и сохраняет уведомление.
type Broadcaster interface {
	BroadcastToUser(userID uuid.UUID, event string, data any) error
}

// SystemMessenger пишет служебное сообщение в переписку участников заявки.
type SystemMessenger interface {
	SendSystemMessage(ctx context.Context, senderID, receiverID, requestID uuid.UUID, body string) (*models.Message, error)
}

// EscrowEvent - полезная нагрузка уведомлений и событий шины.
type EscrowEvent struct {
	RequestID    uuid.UUID  `json:"request_id"`
	PaymentID    uuid.UUID  `json:"payment_id"`
	BuyerID      uuid.UUID  `json:"buyer_id"`
	SellerID     *uuid.UUID `json:"seller_id,omitempty"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	Amount       string     `json:"amount"`
	PlatformFee  string     `json:"platform_fee"`
	SellerAmount string     `json:"seller_amount"`
	Reference    string     `json:"payment_ref,omitempty"`
	TransferID   string     `json:"transfer_id,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

// FanoutNotifier рассылает события escrow во все каналы асинхронно.
// Ошибки каналов только логируются и не влияют на уже зафиксированный переход.
type FanoutNotifier struct {
	ctx       context.Context
	users     UserReader
	hub       Broadcaster
	mail      mailer.Mailer
	messages  SystemMessenger
	publisher events.Publisher
	tasks     *goroutine.Group
}

// NewFanoutNotifier создаёт рассыльщик. ctx ограничивает жизнь фоновых отправок.
func NewFanoutNotifier(ctx context.Context, users UserReader, hub Broadcaster, mail mailer.Mailer, messages SystemMessenger, publisher events.Publisher) *FanoutNotifier {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &FanoutNotifier{
		ctx:       ctx,
		users:     users,
		hub:       hub,
		mail:      mail,
		messages:  messages,
		publisher: publisher,
		tasks:     goroutine.NewGroup(nil),
	}
}

// Wait ждёт завершения начатых рассылок или отмены ctx.
func (n *FanoutNotifier) Wait(ctx context.Context) error {
	return n.tasks.Wait(ctx)
}

// FundingInitiated сообщает продавцу о новой попытке оплаты.
func (n *FanoutNotifier) FundingInitiated(req *models.Request, payment *models.EscrowPayment) {
	evt := newEscrowEvent(req, payment)
	n.dispatch(models.EventFundingInitiated, evt, func(ctx context.Context) {
		if payment.SellerID == nil {
			return
		}
		n.push(*payment.SellerID, models.EventFundingInitiated, evt)
		n.email(ctx, *payment.SellerID,
			fmt.Sprintf("New funding for Request #%s", req.ID),
			fmt.Sprintf("Покупатель начал оплату заявки «%s» на сумму %s. Средства будут удержаны до завершения работы.", req.Title, payment.Amount))
		n.system(ctx, req.BuyerID, *payment.SellerID, req.ID,
			fmt.Sprintf("Покупатель начал оплату на сумму %s.", payment.Amount))
	})
}

// Funded сообщает обеим сторонам, что средства удержаны.
func (n *FanoutNotifier) Funded(req *models.Request, payment *models.EscrowPayment) {
	evt := newEscrowEvent(req, payment)
	n.dispatch(models.EventFunded, evt, func(ctx context.Context) {
		n.push(req.BuyerID, models.EventFunded, evt)
		if payment.SellerID == nil {
			return
		}
		n.push(*payment.SellerID, models.EventFunded, evt)
		n.system(ctx, req.BuyerID, *payment.SellerID, req.ID,
			fmt.Sprintf("Оплата %s подтверждена, средства удерживаются платформой.", payment.Amount))
	})
}

// FundingFailed сообщает покупателю об отказе платежа.
func (n *FanoutNotifier) FundingFailed(req *models.Request, payment *models.EscrowPayment, reason string) {
	evt := newEscrowEvent(req, payment)
	evt.Reason = reason
	n.dispatch(models.EventFundingFailed, evt, func(context.Context) {
		n.push(req.BuyerID, models.EventFundingFailed, evt)
	})
}

// Released сообщает обеим сторонам о выплате продавцу.
func (n *FanoutNotifier) Released(req *models.Request, payment *models.EscrowPayment) {
	evt := newEscrowEvent(req, payment)
	n.dispatch(models.EventReleased, evt, func(ctx context.Context) {
		n.push(req.BuyerID, models.EventReleased, evt)
		n.email(ctx, req.BuyerID,
			fmt.Sprintf("Payment released for Request #%s", req.ID),
			fmt.Sprintf("Вы перевели продавцу %s по заявке «%s». Комиссия платформы: %s.", payment.SellerAmount, req.Title, payment.PlatformFee))
		if payment.SellerID == nil {
			return
		}
		n.push(*payment.SellerID, models.EventReleased, evt)
		n.email(ctx, *payment.SellerID,
			fmt.Sprintf("You received payment for Request #%s", req.ID),
			fmt.Sprintf("Вам переведено %s по заявке «%s».", payment.SellerAmount, req.Title))
		n.system(ctx, req.BuyerID, *payment.SellerID, req.ID,
			fmt.Sprintf("Средства %s переведены продавцу.", payment.SellerAmount))
	})
}

// Refunded сообщает обеим сторонам о возврате покупателю.
func (n *FanoutNotifier) Refunded(req *models.Request, payment *models.EscrowPayment) {
	evt := newEscrowEvent(req, payment)
	n.dispatch(models.EventRefunded, evt, func(ctx context.Context) {
		n.push(req.BuyerID, models.EventRefunded, evt)
		n.email(ctx, req.BuyerID,
			fmt.Sprintf("Refund issued for Request #%s", req.ID),
			fmt.Sprintf("Сумма %s возвращена по заявке «%s».", payment.Amount, req.Title))
		if payment.SellerID == nil {
			return
		}
		n.push(*payment.SellerID, models.EventRefunded, evt)
		n.system(ctx, req.BuyerID, *payment.SellerID, req.ID,
			fmt.Sprintf("Покупатель вернул средства %s, заявка отменена.", payment.Amount))
	})
}

// dispatch публикует событие в шину и выполняет доставку в отдельной горутине.
func (n *FanoutNotifier) dispatch(event string, evt EscrowEvent, deliver func(ctx context.Context)) {
	n.tasks.Go(func() {
		ctx, cancel := context.WithTimeout(n.ctx, notifyTimeout)
		defer cancel()

		if err := n.publisher.Publish(ctx, event, evt); err != nil {
			n.log(event, evt).WithError(err).Warn("notifier: не удалось опубликовать событие")
		}
		deliver(ctx)
	})
}

func (n *FanoutNotifier) push(userID uuid.UUID, event string, evt EscrowEvent) {
	if n.hub == nil {
		return
	}
	if err := n.hub.BroadcastToUser(userID, event, evt); err != nil {
		n.log(event, evt).WithField("user_id", userID).WithError(err).Warn("notifier: не удалось отправить уведомление")
	}
}

func (n *FanoutNotifier) email(ctx context.Context, userID uuid.UUID, subject, body string) {
	if n.mail == nil || n.users == nil {
		return
	}
	user, err := n.users.GetByID(ctx, userID)
	if err != nil {
		logger.L().WithField("user_id", userID).WithError(err).Warn("notifier: получатель письма не найден")
		return
	}
	if err := n.mail.Send(ctx, user.Email, subject, body); err != nil {
		logger.L().WithFields(logrus.Fields{
			"user_id": userID,
			"subject": subject,
		}).WithError(err).Warn("notifier: не удалось отправить письмо")
	}
}

func (n *FanoutNotifier) system(ctx context.Context, senderID, receiverID, requestID uuid.UUID, body string) {
	if n.messages == nil {
		return
	}
	if _, err := n.messages.SendSystemMessage(ctx, senderID, receiverID, requestID, body); err != nil {
		logger.L().WithField("request_id", requestID).WithError(err).Warn("notifier: не удалось создать системное сообщение")
	}
}

func (n *FanoutNotifier) log(event string, evt EscrowEvent) *logrus.Entry {
	return logger.L().WithFields(logrus.Fields{
		"event":      event,
		"request_id": evt.RequestID,
		"payment_id": evt.PaymentID,
	})
}

func newEscrowEvent(req *models.Request, payment *models.EscrowPayment) EscrowEvent {
	evt := EscrowEvent{
		RequestID:    req.ID,
		PaymentID:    payment.ID,
		BuyerID:      req.BuyerID,
		SellerID:     payment.SellerID,
		Title:        req.Title,
		Status:       string(req.Status),
		Amount:       payment.Amount.String(),
		PlatformFee:  payment.PlatformFee.String(),
		SellerAmount: payment.SellerAmount.String(),
		Reference:    payment.Reference(),
	}
	if payment.TransferID != nil {
		evt.TransferID = *payment.TransferID
	}
	return evt
}
