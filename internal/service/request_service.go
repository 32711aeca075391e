package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/revmark-backend/internal/domain/valueobject"
	"github.com/ignatzorin/revmark-backend/internal/logger"
	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/pkg/apperror"
	"github.com/ignatzorin/revmark-backend/internal/repository"
	"github.com/ignatzorin/revmark-backend/internal/repository/common"
	"github.com/ignatzorin/revmark-backend/internal/validation"
)

// RequestRepository описывает хранилище заявок.
type RequestRepository interface {
	Create(ctx context.Context, req *models.Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Request, error)
	List(ctx context.Context, filter repository.RequestFilter) ([]models.Request, error)
	Update(ctx context.Context, req *models.Request) error
	Delete(ctx context.Context, id, buyerID uuid.UUID) (bool, error)
}

// PendingPaymentCanceller закрывает незавершённые попытки оплаты заявки.
type PendingPaymentCanceller interface {
	CancelPendingAttempts(ctx context.Context, requestID uuid.UUID, reason string) error
}

// RequestInput - данные заявки от покупателя.
type RequestInput struct {
	Title       string
	Description string
	Budget      *valueobject.Money
}

// RequestListScope задаёт выборку заявок.
type RequestListScope string

const (
	// ScopeOpen - открытые заявки всех покупателей.
	ScopeOpen RequestListScope = "open"
	// ScopeBuyer - заявки, созданные пользователем.
	ScopeBuyer RequestListScope = "buyer"
	// ScopeSeller - заявки, где пользователь назначен продавцом.
	ScopeSeller RequestListScope = "seller"
)

// RequestService отвечает за жизненный цикл заявок вне платёжных переходов.
type RequestService struct {
	repo     RequestRepository
	payments PendingPaymentCanceller
}

// NewRequestService создаёт сервис заявок.
func NewRequestService(repo RequestRepository, payments PendingPaymentCanceller) *RequestService {
	return &RequestService{repo: repo, payments: payments}
}

// Create публикует новую заявку покупателя.
func (s *RequestService) Create(ctx context.Context, buyerID uuid.UUID, in RequestInput) (*models.Request, error) {
	if err := validateRequestInput(&in); err != nil {
		return nil, err
	}

	req := &models.Request{
		Title:       in.Title,
		Description: in.Description,
		Budget:      in.Budget,
		BuyerID:     buyerID,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось создать заявку")
	}

	logger.L().WithFields(logrus.Fields{
		"request_id": req.ID,
		"buyer_id":   buyerID,
	}).Info("заявка создана")

	return req, nil
}

// Get возвращает заявку.
func (s *RequestService) Get(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrRequestNotFound) {
			return nil, apperror.ErrRequestNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось загрузить заявку")
	}
	return req, nil
}

// List возвращает заявки в выбранной области видимости.
func (s *RequestService) List(ctx context.Context, userID uuid.UUID, scope RequestListScope, limit, offset int) ([]models.Request, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	filter := repository.RequestFilter{Limit: limit, Offset: offset}
	switch scope {
	case ScopeOpen, "":
		status := valueobject.RequestStatusOpen
		filter.Status = &status
	case ScopeBuyer:
		filter.BuyerID = &userID
	case ScopeSeller:
		filter.ParticipantID = &userID
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестная выборка заявок")
	}

	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить заявки")
	}

	if scope == ScopeSeller {
		// в выборку участника попадают и собственные заявки
		own := requests[:0]
		for _, req := range requests {
			if req.BuyerID != userID {
				own = append(own, req)
			}
		}
		requests = own
	}

	return requests, nil
}

// Update меняет описание открытой заявки.
func (s *RequestService) Update(ctx context.Context, id, buyerID uuid.UUID, in RequestInput) (*models.Request, error) {
	if err := validateRequestInput(&in); err != nil {
		return nil, err
	}

	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.IsBuyer(buyerID) {
		return nil, apperror.ErrNotBuyer
	}
	if req.Status != valueobject.RequestStatusOpen {
		return nil, apperror.ErrStatusConflict
	}

	req.Title = in.Title
	req.Description = in.Description
	req.Budget = in.Budget
	if err := s.repo.Update(ctx, req); err != nil {
		if errors.Is(err, common.ErrStatusConflict) {
			return nil, apperror.ErrStatusConflict
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось обновить заявку")
	}

	return req, nil
}

// Delete удаляет заявку без попыток оплаты или отменяет её.
// Оплаченные заявки удалить нельзя. Незавершённые платежи сначала отменяются в шлюзе.
// Возвращает true при физическом удалении.
func (s *RequestService) Delete(ctx context.Context, id, buyerID uuid.UUID) (bool, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !req.IsBuyer(buyerID) {
		return false, apperror.ErrNotBuyer
	}
	if !req.Status.IsCancellable() {
		return false, apperror.ErrStatusConflict
	}

	if err := s.payments.CancelPendingAttempts(ctx, id, "request cancelled"); err != nil {
		return false, err
	}

	hardDeleted, err := s.repo.Delete(ctx, id, buyerID)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrStatusConflict):
			return false, apperror.ErrStatusConflict
		case errors.Is(err, repository.ErrPaymentInFlight):
			return false, apperror.ErrPaymentInFlight
		case errors.Is(err, repository.ErrRequestNotFound):
			return false, apperror.ErrRequestNotFound
		}
		return false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось удалить заявку")
	}

	logger.L().WithFields(logrus.Fields{
		"request_id":   id,
		"hard_deleted": hardDeleted,
	}).Info("заявка удалена")

	return hardDeleted, nil
}

func validateRequestInput(in *RequestInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)

	if err := validation.ValidateLength("Название", in.Title, validation.MinRequestTitleLength, validation.MaxRequestTitleLength); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateLength("Описание", in.Description, validation.MinRequestDescriptionLength, validation.MaxRequestDescriptionLength); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if in.Budget != nil && !in.Budget.IsPositive() {
		return apperror.New(apperror.ErrCodeValidation, "бюджет должен быть положительным")
	}
	return nil
}
