package dto

import (
	"github.com/google/uuid"

	"github.com/ignatzorin/revmark-backend/internal/domain/valueobject"
)

// CreateIntentRequest represents the request to start funding a request
type CreateIntentRequest struct {
	RequestID string            `json:"request_id" binding:"required"`
	SellerID  *string           `json:"seller_id"`
	Amount    valueobject.Money `json:"amount"`
}

// ParseSellerID converts optional seller ID to uuid.UUID pointer
func (r *CreateIntentRequest) ParseSellerID() (*uuid.UUID, error) {
	return parseOptionalUUID(r.SellerID)
}

// ReleaseRequest represents the request to release escrowed funds
type ReleaseRequest struct {
	RequestID string `json:"request_id" binding:"required"`
}

// RefundRequest represents the request to refund escrowed funds
type RefundRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	Reason    string `json:"reason"`
}

// RequestBody represents create/update payload of a request
type RequestBody struct {
	Title       string             `json:"title" binding:"required"`
	Description string             `json:"description" binding:"required"`
	Budget      *valueobject.Money `json:"budget"`
}

// SendMessageRequest represents the request to send a message
type SendMessageRequest struct {
	ReceiverID  string   `json:"receiver_id" binding:"required"`
	RequestID   *string  `json:"request_id"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachment_ids"`
}

// ParseRequestID converts optional request ID to uuid.UUID pointer
func (r *SendMessageRequest) ParseRequestID() (*uuid.UUID, error) {
	return parseOptionalUUID(r.RequestID)
}

// ParseAttachmentIDs converts string UUIDs to uuid.UUID slice
func (r *SendMessageRequest) ParseAttachmentIDs() ([]uuid.UUID, error) {
	return parseUUIDSlice(r.Attachments)
}

// RegisterRequest represents the registration payload
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// LoginRequest represents the login payload
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UpdateAccountRequest carries the account fields to change; omitted fields stay as is
type UpdateAccountRequest struct {
	Email    *string `json:"email"`
	Username *string `json:"username"`
}

// RefreshRequest carries a refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func parseOptionalUUID(raw *string) (*uuid.UUID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	parsed, err := uuid.Parse(*raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseUUIDSlice is a helper to convert string slice to UUID slice
func parseUUIDSlice(strs []string) ([]uuid.UUID, error) {
	if strs == nil {
		return nil, nil
	}

	var uuids []uuid.UUID
	for _, str := range strs {
		if str == "" {
			continue
		}
		parsed, err := uuid.Parse(str)
		if err != nil {
			return nil, err
		}
		uuids = append(uuids, parsed)
	}
	return uuids, nil
}
