package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/revmark-backend/internal/domain/valueobject"
)

// EscrowPayment - одна попытка оплаты заявки через платёжный шлюз.
// Суммы неизменяемы после создания, SellerAmount + PlatformFee == Amount.
type EscrowPayment struct {
	ID              uuid.UUID                 `db:"id" json:"id"`
	RequestID       uuid.UUID                 `db:"request_id" json:"request_id"`
	BuyerID         uuid.UUID                 `db:"buyer_id" json:"buyer_id"`
	SellerID        *uuid.UUID                `db:"seller_id" json:"seller_id,omitempty"`
	Amount          valueobject.Money         `db:"amount_cents" json:"amount"`
	PlatformFee     valueobject.Money         `db:"platform_fee_cents" json:"platform_fee"`
	SellerAmount    valueobject.Money         `db:"seller_amount_cents" json:"seller_amount"`
	Currency        string                    `db:"currency" json:"currency"`
	PaymentIntentID *string                   `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	TransferID      *string                   `db:"transfer_id" json:"transfer_id,omitempty"`
	RefundID        *string                   `db:"refund_id" json:"refund_id,omitempty"`
	Status          valueobject.PaymentStatus `db:"status" json:"status"`
	FailureReason   *string                   `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt       time.Time                 `db:"created_at" json:"created_at"`
	CompletedAt     *time.Time                `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt       time.Time                 `db:"updated_at" json:"updated_at"`
}

// Reference возвращает внешний идентификатор платежа или пустую строку.
func (p *EscrowPayment) Reference() string {
	if p.PaymentIntentID == nil {
		return ""
	}
	return *p.PaymentIntentID
}

// WebhookEvent фиксирует обработанное событие шлюза для защиты от повторов.
type WebhookEvent struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Provider    string     `db:"provider" json:"provider"`
	EventID     string     `db:"event_id" json:"event_id"`
	EventType   string     `db:"event_type" json:"event_type"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}
