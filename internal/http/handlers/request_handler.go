package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/revmark-backend/internal/dto"
	"github.com/ignatzorin/revmark-backend/internal/http/handlers/common"
	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/service"
)

// RequestOperations - операции над заявками.
type RequestOperations interface {
	Create(ctx context.Context, buyerID uuid.UUID, in service.RequestInput) (*models.Request, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Request, error)
	List(ctx context.Context, userID uuid.UUID, scope service.RequestListScope, limit, offset int) ([]models.Request, error)
	Update(ctx context.Context, id, buyerID uuid.UUID, in service.RequestInput) (*models.Request, error)
	Delete(ctx context.Context, id, buyerID uuid.UUID) (bool, error)
}

// RequestHandler обслуживает маршруты заявок.
type RequestHandler struct {
	requests RequestOperations
}

// NewRequestHandler создаёт хэндлер заявок.
func NewRequestHandler(requests RequestOperations) *RequestHandler {
	return &RequestHandler{requests: requests}
}

// Create обрабатывает POST /api/requests.
func (h *RequestHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.RequestBody
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	created, err := h.requests.Create(c.Request.Context(), userID, requestInput(req))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

// List обрабатывает GET /api/requests - открытые заявки.
func (h *RequestHandler) List(c *gin.Context) {
	h.list(c, service.ScopeOpen)
}

// ListMy обрабатывает GET /api/requests/my?as=buyer|seller.
func (h *RequestHandler) ListMy(c *gin.Context) {
	scope := service.ScopeBuyer
	if c.Query("as") == string(service.ScopeSeller) {
		scope = service.ScopeSeller
	}
	h.list(c, scope)
}

func (h *RequestHandler) list(c *gin.Context, scope service.RequestListScope) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	requests, err := h.requests.List(c.Request.Context(), userID, scope, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.PaginatedRequestsResponse{
		Requests: requests,
		Limit:    limit,
		Offset:   offset,
	})
}

// Get обрабатывает GET /api/requests/:id.
func (h *RequestHandler) Get(c *gin.Context) {
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "неверный идентификатор заявки")
		return
	}

	req, err := h.requests.Get(c.Request.Context(), id)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

// Update обрабатывает PUT /api/requests/:id.
func (h *RequestHandler) Update(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "неверный идентификатор заявки")
		return
	}

	var req dto.RequestBody
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	updated, err := h.requests.Update(c.Request.Context(), id, userID, requestInput(req))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// Delete обрабатывает DELETE /api/requests/:id.
// Заявка с попытками оплаты не удаляется, а переводится в cancelled.
func (h *RequestHandler) Delete(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, "неверный идентификатор заявки")
		return
	}

	deleted, err := h.requests.Delete(c.Request.Context(), id, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	if deleted {
		common.RespondSuccess(c, http.StatusOK, "заявка удалена", nil)
		return
	}
	common.RespondSuccess(c, http.StatusOK, "заявка отменена", gin.H{"status": "cancelled"})
}

func requestInput(req dto.RequestBody) service.RequestInput {
	return service.RequestInput{
		Title:       req.Title,
		Description: req.Description,
		Budget:      req.Budget,
	}
}
