package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/revmark-backend/internal/config"
	"github.com/ignatzorin/revmark-backend/internal/db"
	"github.com/ignatzorin/revmark-backend/internal/events"
	"github.com/ignatzorin/revmark-backend/internal/gateway"
	"github.com/ignatzorin/revmark-backend/internal/logger"
	"github.com/ignatzorin/revmark-backend/internal/mailer"
	"github.com/ignatzorin/revmark-backend/internal/repository"
	"github.com/ignatzorin/revmark-backend/internal/service"
	"github.com/ignatzorin/revmark-backend/internal/storage"
	"github.com/ignatzorin/revmark-backend/internal/ws"
)

// App хранит собранные зависимости приложения.
type App struct {
	Config *config.Config
	DB     *sqlx.DB
	Redis  *redis.Client
	Hub    *ws.Hub

	Tokens        *service.TokenManager
	Auth          *service.AuthService
	Escrow        *service.EscrowService
	Webhooks      *service.WebhookService
	Sellers       *service.SellerService
	Requests      *service.RequestService
	Messages      *service.MessageService
	Notifications *service.NotificationService

	Storage      storage.ObjectStorage
	LocalStorage *storage.LocalStorage

	notifier  *service.FanoutNotifier
	publisher events.Publisher
}

// shutdownWait - сколько Close ждёт незавершённые рассылки.
const shutdownWait = 10 * time.Second

// Build подключается к внешним системам и собирает сервисы.
// ctx ограничивает жизнь хаба и фоновых рассылок.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	conn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, DB: conn}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("app: неверный REDIS_URL: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			// лимиты запросов продолжат работать в памяти процесса
			logger.L().WithError(err).Warn("app: redis недоступен, используем локальные лимиты")
			_ = a.Redis.Close()
			a.Redis = nil
		}
	}

	if err := a.buildStorage(ctx); err != nil {
		return err
	}

	var mail mailer.Mailer = mailer.LogMailer{}
	if cfg.Mail.Host != "" {
		smtp, err := mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
		if err != nil {
			return err
		}
		mail = smtp
	}

	a.publisher = events.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.RabbitMQURL)
		if err != nil {
			return err
		}
		a.publisher = pub
	}

	gw := gateway.NewGuard(
		gateway.NewStripeGateway(cfg.Payments.StripeSecret, cfg.Payments.WebhookSecret),
		cfg.Payments.GatewayTimeout,
	)

	userRepo := repository.NewUserRepository(a.DB)
	requestRepo := repository.NewRequestRepository(a.DB)
	escrowRepo := repository.NewEscrowRepository(a.DB)
	messageRepo := repository.NewMessageRepository(a.DB)
	notificationRepo := repository.NewNotificationRepository(a.DB)
	webhookRepo := repository.NewWebhookEventRepository(a.DB)

	a.Notifications = service.NewNotificationService(notificationRepo)
	a.Hub = ws.NewHub(ctx)
	a.Hub.SetNotificationSaver(a.Notifications)

	a.Tokens = service.NewTokenManager(cfg.JWTSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	a.Auth = service.NewAuthService(userRepo, a.Tokens)
	a.Messages = service.NewMessageService(messageRepo, requestRepo, userRepo, a.Storage, a.Hub, service.MessageConfig{
		MaxUploadBytes: cfg.Storage.MaxUploadSizeMB * 1024 * 1024,
		DownloadURLTTL: cfg.Storage.DownloadURLTTL,
	})
	a.Sellers = service.NewSellerService(userRepo, gw, a.Hub, service.SellerConfig{
		PublicBaseURL:  cfg.PublicBaseURL,
		ConnectCountry: cfg.Payments.ConnectCountry,
	})

	a.notifier = service.NewFanoutNotifier(ctx, userRepo, a.Hub, mail, a.Messages, a.publisher)
	a.Escrow = service.NewEscrowService(escrowRepo, requestRepo, userRepo, gw, a.notifier, service.EscrowConfig{
		FeePercent: cfg.Payments.FeePercent,
		Currency:   cfg.Payments.Currency,
	})
	a.Requests = service.NewRequestService(requestRepo, a.Escrow)
	a.Webhooks = service.NewWebhookService(gw, webhookRepo, a.Escrow, a.Sellers)

	return nil
}

func (a *App) buildStorage(ctx context.Context) error {
	cfg := a.Config.Storage
	if cfg.Driver == config.StorageDriverS3 {
		s3Storage, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			MaxUploadMB:     cfg.MaxUploadSizeMB,
		})
		if err != nil {
			return err
		}
		a.Storage = s3Storage
		return nil
	}

	// ссылки локального хранилища подписываются тем же секретом, что и access токены
	local, err := storage.NewLocalStorage(cfg.LocalPath, cfg.MaxUploadSizeMB, a.Config.PublicBaseURL, a.Config.JWTSecret)
	if err != nil {
		return err
	}
	a.Storage = local
	a.LocalStorage = local
	return nil
}

// Close дожидается начатых рассылок и освобождает соединения.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	if a.notifier != nil {
		if err := a.notifier.Wait(ctx); err != nil {
			logger.L().WithError(err).Warn("app: не все уведомления доставлены до остановки")
		}
	}
	if a.Hub != nil {
		if err := a.Hub.Wait(ctx); err != nil {
			logger.L().WithError(err).Warn("app: не все уведомления сохранены до остановки")
		}
	}
	cancel()
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logger.L().WithError(err).Warn("app: ошибка закрытия publisher")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.L().WithError(err).Warn("app: ошибка закрытия redis")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.L().WithError(err).Warn("app: ошибка закрытия базы")
		}
	}
}
