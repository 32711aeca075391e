package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/pkg/apperror"
	"github.com/ignatzorin/revmark-backend/internal/repository"
)

const (
	notificationPageDefault = 20
	notificationPageMax     = 100
)

// NotificationRepository - хранилище уведомлений.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// notificationPayload повторяет формат websocket сообщения, чтобы клиент
// разбирал сохранённые и живые события одинаково.
type notificationPayload struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NotificationService сохраняет события escrow и переписки как уведомления пользователя.
type NotificationService struct {
	repo NotificationRepository
}

func NewNotificationService(repo NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

// Save сохраняет событие, отправленное через websocket хаб.
func (s *NotificationService) Save(ctx context.Context, userID uuid.UUID, event string, data interface{}) error {
	if event == "" {
		return apperror.New(apperror.ErrCodeValidation, "событие уведомления не задано")
	}

	raw, err := json.Marshal(notificationPayload{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("notification service: marshal payload %w", err)
	}

	return s.repo.Create(ctx, &models.Notification{UserID: userID, Payload: raw})
}

// ListNotifications возвращает страницу уведомлений, новые первыми.
func (s *NotificationService) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > notificationPageMax {
		limit = notificationPageDefault
	}
	offset = max(offset, 0)

	return s.repo.List(ctx, userID, limit, offset, unreadOnly)
}

// MarkAsRead отмечает уведомление прочитанным. Чужое уведомление выглядит как несуществующее.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, userID uuid.UUID) error {
	err := s.repo.MarkAsRead(ctx, id, userID)
	if errors.Is(err, repository.ErrNotificationNotFound) {
		return apperror.New(apperror.ErrCodeNotFound, "уведомление не найдено")
	}
	return err
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	return s.repo.MarkAllAsRead(ctx, userID)
}

func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}
