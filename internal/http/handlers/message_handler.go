package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/revmark-backend/internal/dto"
	"github.com/ignatzorin/revmark-backend/internal/http/handlers/common"
	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/service"
)

// MessageHandler обслуживает переписку и вложения.
type MessageHandler struct {
	messages       *service.MessageService
	maxUploadBytes int64
}

// NewMessageHandler создаёт хэндлер сообщений.
func NewMessageHandler(messages *service.MessageService, maxUploadBytes int64) *MessageHandler {
	return &MessageHandler{messages: messages, maxUploadBytes: maxUploadBytes}
}

// Send обрабатывает POST /api/messages.
func (h *MessageHandler) Send(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.SendMessageRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		common.RespondBadRequest(c, "неверный receiver_id")
		return
	}
	requestID, err := req.ParseRequestID()
	if err != nil {
		common.RespondBadRequest(c, "неверный request_id")
		return
	}
	attachmentIDs, err := req.ParseAttachmentIDs()
	if err != nil {
		common.RespondBadRequest(c, "неверный идентификатор вложения")
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), service.SendMessageInput{
		SenderID:      userID,
		ReceiverID:    receiverID,
		RequestID:     requestID,
		Body:          req.Content,
		AttachmentIDs: attachmentIDs,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// Thread обрабатывает GET /api/messages/with/:user_id.
func (h *MessageHandler) Thread(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	peerID, err := common.ParseUUIDParam(c, "user_id")
	if err != nil {
		common.RespondBadRequest(c, "неверный user_id")
		return
	}

	limit := common.ParseIntQuery(c, "limit", 50)
	offset := common.ParseIntQuery(c, "offset", 0)

	messages, err := h.messages.Thread(c.Request.Context(), userID, peerID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.MessageListResponse{Messages: messages, PeerID: &peerID})
}

// Inbox обрабатывает GET /api/messages/inbox.
func (h *MessageHandler) Inbox(c *gin.Context) {
	h.listOwn(c, h.messages.Inbox)
}

// Sent обрабатывает GET /api/messages/sent.
func (h *MessageHandler) Sent(c *gin.Context) {
	h.listOwn(c, h.messages.Sent)
}

func (h *MessageHandler) listOwn(c *gin.Context, list func(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Message, error)) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit := common.ParseIntQuery(c, "limit", 50)
	offset := common.ParseIntQuery(c, "offset", 0)

	messages, err := list(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.MessageListResponse{Messages: messages})
}

// MarkRead обрабатывает PUT /api/messages/:id/read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "неверный идентификатор сообщения")
		return
	}

	if err := h.messages.MarkRead(c.Request.Context(), id, userID); err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondSuccess(c, http.StatusOK, "сообщение прочитано", nil)
}

// UnreadCount обрабатывает GET /api/messages/unread/count.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	count, err := h.messages.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// UploadAttachment обрабатывает POST /api/attachments (multipart, поле file).
func (h *MessageHandler) UploadAttachment(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	// запас на заголовки multipart
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.RespondError(c, http.StatusRequestEntityTooLarge, "файл превышает допустимый размер")
			return
		}
		common.RespondBadRequest(c, "файл обязателен")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать файл")
		return
	}
	defer file.Close()

	attachment, err := h.messages.UploadAttachment(c.Request.Context(), userID, fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, attachment)
}

// DownloadAttachment обрабатывает GET /api/attachments/:id/download.
func (h *MessageHandler) DownloadAttachment(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "неверный идентификатор вложения")
		return
	}

	link, err := h.messages.DownloadURL(c.Request.Context(), id, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.AttachmentDownloadResponse{
		DownloadURL:  link.URL,
		OriginalName: link.OriginalName,
		ContentType:  link.ContentType,
		ExpiresAt:    link.ExpiresAt,
	})
}
