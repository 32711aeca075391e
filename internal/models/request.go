package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/revmark-backend/internal/domain/valueobject"
)

// Request описывает заявку покупателя на услугу.
type Request struct {
	ID              uuid.UUID                 `db:"id" json:"id"`
	Title           string                    `db:"title" json:"title"`
	Description     string                    `db:"description" json:"description"`
	Budget          *valueobject.Money        `db:"budget_cents" json:"budget,omitempty"`
	BuyerID         uuid.UUID                 `db:"buyer_id" json:"buyer_id"`
	SellerID        *uuid.UUID                `db:"seller_id" json:"seller_id,omitempty"`
	Status          valueobject.RequestStatus `db:"status" json:"status"`
	EscrowAmount    *valueobject.Money        `db:"escrow_amount_cents" json:"escrow_amount,omitempty"`
	PlatformFee     *valueobject.Money        `db:"platform_fee_cents" json:"platform_fee,omitempty"`
	PaymentIntentID *string                   `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	TransferID      *string                   `db:"transfer_id" json:"transfer_id,omitempty"`
	CreatedAt       time.Time                 `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time                 `db:"updated_at" json:"updated_at"`
}

// IsBuyer сообщает, что пользователь является покупателем заявки.
func (r *Request) IsBuyer(userID uuid.UUID) bool {
	return r.BuyerID == userID
}

// IsParticipant сообщает, что пользователь покупатель или продавец заявки.
func (r *Request) IsParticipant(userID uuid.UUID) bool {
	return r.BuyerID == userID || (r.SellerID != nil && *r.SellerID == userID)
}
