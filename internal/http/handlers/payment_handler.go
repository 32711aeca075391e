package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/revmark-backend/internal/dto"
	"github.com/ignatzorin/revmark-backend/internal/http/handlers/common"
	"github.com/ignatzorin/revmark-backend/internal/logger"
	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/service"
)

// maxWebhookBody ограничивает размер тела вебхука.
const maxWebhookBody = 1 << 20

// EscrowOperations - операции escrow, доступные через HTTP.
type EscrowOperations interface {
	InitiateFunding(ctx context.Context, in service.InitiateFundingInput) (*service.InitiateFundingResult, error)
	Release(ctx context.Context, requestID, callerID uuid.UUID) (*service.ReleaseResult, error)
	Refund(ctx context.Context, requestID, callerID uuid.UUID, reason string) (*service.RefundResult, error)
	History(ctx context.Context, requestID, callerID uuid.UUID) ([]models.EscrowPayment, error)
}

// WebhookProcessor применяет подписанные события платёжного шлюза.
type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signature string) error
}

type PaymentHandler struct {
	escrow   EscrowOperations
	webhooks WebhookProcessor
}

func NewPaymentHandler(escrow EscrowOperations, webhooks WebhookProcessor) *PaymentHandler {
	return &PaymentHandler{escrow: escrow, webhooks: webhooks}
}

// CreateIntent POST /api/payment/create-intent
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateIntentRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		common.RespondBadRequest(c, "неверный request_id")
		return
	}
	sellerID, err := req.ParseSellerID()
	if err != nil {
		common.RespondBadRequest(c, "неверный seller_id")
		return
	}

	result, err := h.escrow.InitiateFunding(c.Request.Context(), service.InitiateFundingInput{
		RequestID: requestID,
		BuyerID:   userID,
		SellerID:  sellerID,
		Amount:    req.Amount,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.CreateIntentResponse{
		ClientSecret: result.ClientSecret,
		PaymentID:    result.PaymentID.String(),
		Amount:       result.Amount,
		PlatformFee:  result.PlatformFee,
		SellerAmount: result.SellerAmount,
	})
}

// Release POST /api/payment/release
func (h *PaymentHandler) Release(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.ReleaseRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		common.RespondBadRequest(c, "неверный request_id")
		return
	}

	result, err := h.escrow.Release(c.Request.Context(), requestID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ReleaseResponse{
		Success:           true,
		TransferID:        result.TransferID,
		AmountTransferred: result.AmountTransferred,
		PlatformFee:       result.PlatformFee,
	})
}

// Refund POST /api/payment/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.RefundRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		common.RespondBadRequest(c, "неверный request_id")
		return
	}

	result, err := h.escrow.Refund(c.Request.Context(), requestID, userID, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.RefundResponse{
		Success:        true,
		RefundID:       result.RefundID,
		AmountRefunded: result.AmountRefunded,
		Status:         result.Status,
	})
}

// History GET /api/payment/history/:request_id
func (h *PaymentHandler) History(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	requestID, err := common.ParseUUIDParam(c, "request_id")
	if err != nil {
		common.RespondBadRequest(c, "неверный request_id")
		return
	}

	payments, err := h.escrow.History(c.Request.Context(), requestID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.PaymentHistoryResponse{RequestID: requestID, Payments: payments})
}

// Webhook POST /webhook. Тело читается целиком без разбора: подпись считается по сырым байтам.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать тело запроса")
		return
	}

	if err := h.webhooks.Handle(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		logger.L().WithError(err).Warn("webhook: обработка не завершена")
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
