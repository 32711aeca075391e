package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/revmark-backend/internal/gateway"
	"github.com/ignatzorin/revmark-backend/internal/logger"
	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/pkg/apperror"
	"github.com/ignatzorin/revmark-backend/internal/repository"
)

// SellerRepository описывает доступ к данным подключённых аккаунтов продавцов.
type SellerRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByStripeAccount(ctx context.Context, accountID string) (*models.User, error)
	SetStripeAccount(ctx context.Context, userID uuid.UUID, accountID string) (string, error)
	UpdateOnboardingByAccount(ctx context.Context, accountID string, complete bool) (*models.User, error)
}

// SellerConfig - параметры подключения продавцов.
type SellerConfig struct {
	PublicBaseURL  string
	ConnectCountry string
}

// ConnectResult - ссылка на анкету подключения выплат.
type ConnectResult struct {
	AccountID     string    `json:"account_id"`
	OnboardingURL string    `json:"onboarding_url"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// SellerStatus - состояние подключения выплат продавца.
type SellerStatus struct {
	Connected          bool   `json:"connected"`
	AccountID          string `json:"account_id,omitempty"`
	ChargesEnabled     bool   `json:"charges_enabled"`
	PayoutsEnabled     bool   `json:"payouts_enabled"`
	DetailsSubmitted   bool   `json:"details_submitted"`
	OnboardingComplete bool   `json:"onboarding_complete"`
}

// SellerService подключает продавцов к выплатам через платёжный шлюз.
type SellerService struct {
	repo    SellerRepository
	gateway gateway.PaymentGateway
	hub     Broadcaster
	cfg     SellerConfig
}

// NewSellerService создаёт сервис продавцов.
func NewSellerService(repo SellerRepository, gw gateway.PaymentGateway, hub Broadcaster, cfg SellerConfig) *SellerService {
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &SellerService{repo: repo, gateway: gw, hub: hub, cfg: cfg}
}

// Connect создаёт подключённый аккаунт (один раз) и возвращает ссылку на анкету.
func (s *SellerService) Connect(ctx context.Context, userID uuid.UUID) (*ConnectResult, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	accountID := ""
	if user.StripeAccountID != nil {
		accountID = *user.StripeAccountID
	}

	if accountID == "" {
		created, err := s.gateway.CreateAccount(ctx, gateway.CreateAccountInput{
			Email:   user.Email,
			Country: s.cfg.ConnectCountry,
		})
		if err != nil {
			return nil, err
		}

		stored, err := s.repo.SetStripeAccount(ctx, userID, created)
		if err != nil {
			logger.L().WithFields(logrus.Fields{
				"user_id":    userID,
				"account_id": created,
			}).WithError(err).Error("аккаунт создан в шлюзе, но не сохранён")
			if errors.Is(err, repository.ErrStripeAccountTaken) {
				return nil, apperror.New(apperror.ErrCodeConflict, "аккаунт выплат уже привязан к другому пользователю")
			}
			return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить аккаунт выплат")
		}
		if stored != created {
			// параллельный запрос успел привязать свой аккаунт
			logger.L().WithFields(logrus.Fields{
				"user_id":    userID,
				"account_id": created,
				"kept":       stored,
			}).Warn("лишний подключённый аккаунт не привязан")
		} else {
			logger.L().WithFields(logrus.Fields{
				"user_id":    userID,
				"account_id": stored,
			}).Info("продавец создал аккаунт выплат")
		}
		accountID = stored
	}

	link, err := s.gateway.CreateOnboardingLink(ctx, accountID,
		s.cfg.PublicBaseURL+"/seller/onboarding/refresh",
		s.cfg.PublicBaseURL+"/seller/onboarding/complete",
	)
	if err != nil {
		return nil, err
	}

	return &ConnectResult{
		AccountID:     accountID,
		OnboardingURL: link.URL,
		ExpiresAt:     link.ExpiresAt,
	}, nil
}

// Status запрашивает состояние аккаунта в шлюзе и синхронизирует флаг онбординга.
func (s *SellerService) Status(ctx context.Context, userID uuid.UUID) (*SellerStatus, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.StripeAccountID == nil || *user.StripeAccountID == "" {
		return &SellerStatus{}, nil
	}

	status, err := s.gateway.GetAccountStatus(ctx, *user.StripeAccountID)
	if err != nil {
		return nil, err
	}

	if err := s.sync(ctx, user, status); err != nil {
		return nil, err
	}

	return &SellerStatus{
		Connected:          true,
		AccountID:          status.AccountID,
		ChargesEnabled:     status.ChargesEnabled,
		PayoutsEnabled:     status.PayoutsEnabled,
		DetailsSubmitted:   status.DetailsSubmitted,
		OnboardingComplete: status.OnboardingComplete(),
	}, nil
}

// HandleAccountUpdated применяет событие account.updated из вебхука.
func (s *SellerService) HandleAccountUpdated(ctx context.Context, status *gateway.AccountStatus) error {
	if status == nil || status.AccountID == "" {
		return apperror.New(apperror.ErrCodeValidation, "событие без аккаунта")
	}

	user, err := s.repo.GetByStripeAccount(ctx, status.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return apperror.New(apperror.ErrCodeNotFound, "аккаунт выплат не привязан к пользователю")
		}
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось найти продавца")
	}

	return s.sync(ctx, user, status)
}

func (s *SellerService) sync(ctx context.Context, user *models.User, status *gateway.AccountStatus) error {
	complete := status.OnboardingComplete()
	if user.OnboardingComplete == complete {
		return nil
	}

	if _, err := s.repo.UpdateOnboardingByAccount(ctx, *user.StripeAccountID, complete); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось обновить статус продавца")
	}
	user.OnboardingComplete = complete

	logger.L().WithFields(logrus.Fields{
		"user_id":             user.ID,
		"account_id":          *user.StripeAccountID,
		"onboarding_complete": complete,
	}).Info("статус подключения продавца обновлён")

	if complete && s.hub != nil {
		if err := s.hub.BroadcastToUser(user.ID, models.EventSellerOnboarded, map[string]any{"user_id": user.ID, "account_id": *user.StripeAccountID}); err != nil {
			logger.L().WithField("user_id", user.ID).WithError(err).Warn("не удалось отправить уведомление продавцу")
		}
	}
	return nil
}

func (s *SellerService) loadUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось загрузить пользователя")
	}
	return user, nil
}
