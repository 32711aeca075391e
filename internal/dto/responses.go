package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/revmark-backend/internal/domain/valueobject"
	"github.com/ignatzorin/revmark-backend/internal/models"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SuccessResponse represents a success response with a message
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateIntentResponse is returned after a funding attempt is authorized
type CreateIntentResponse struct {
	ClientSecret string            `json:"client_secret"`
	PaymentID    string            `json:"payment_intent_id"`
	Amount       valueobject.Money `json:"amount"`
	PlatformFee  valueobject.Money `json:"platform_fee"`
	SellerAmount valueobject.Money `json:"seller_amount"`
}

// ReleaseResponse is returned after funds are transferred to the seller
type ReleaseResponse struct {
	Success           bool              `json:"success"`
	TransferID        string            `json:"transfer_id"`
	AmountTransferred valueobject.Money `json:"amount_transferred"`
	PlatformFee       valueobject.Money `json:"platform_fee"`
}

// RefundResponse is returned after funds are returned to the buyer
type RefundResponse struct {
	Success        bool              `json:"success"`
	RefundID       string            `json:"refund_id"`
	AmountRefunded valueobject.Money `json:"amount_refunded"`
	Status         string            `json:"status"`
}

// PaymentHistoryResponse lists payment attempts of one request
type PaymentHistoryResponse struct {
	RequestID uuid.UUID              `json:"request_id"`
	Payments  []models.EscrowPayment `json:"payments"`
}

// PaginatedRequestsResponse represents paginated requests list
type PaginatedRequestsResponse struct {
	Requests []models.Request `json:"requests"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// MessageListResponse represents a thread with another user, or an inbox/sent page without peer
type MessageListResponse struct {
	Messages []models.Message `json:"messages"`
	PeerID   *uuid.UUID       `json:"peer_id,omitempty"`
}

// NotificationListResponse represents a page of notifications
type NotificationListResponse struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
	Limit         int                   `json:"limit"`
	Offset        int                   `json:"offset"`
}

// AttachmentDownloadResponse carries a temporary download link
type AttachmentDownloadResponse struct {
	DownloadURL  string    `json:"download_url"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthResponse represents register/login result
type AuthResponse struct {
	User   *models.User `json:"user"`
	Tokens interface{}  `json:"tokens"`
}
