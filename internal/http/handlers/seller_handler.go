package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/revmark-backend/internal/http/handlers/common"
	"github.com/ignatzorin/revmark-backend/internal/service"
)

// SellerHandler обслуживает подключение продавцов к выплатам.
type SellerHandler struct {
	sellers *service.SellerService
}

// NewSellerHandler создаёт хэндлер.
func NewSellerHandler(sellers *service.SellerService) *SellerHandler {
	return &SellerHandler{sellers: sellers}
}

// Connect обрабатывает POST /api/seller/connect.
func (h *SellerHandler) Connect(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	result, err := h.sellers.Connect(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Status обрабатывает GET /api/seller/status.
func (h *SellerHandler) Status(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	status, err := h.sellers.Status(c.Request.Context(), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}
