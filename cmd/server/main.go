package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignatzorin/revmark-backend/internal/app"
	"github.com/ignatzorin/revmark-backend/internal/config"
	"github.com/ignatzorin/revmark-backend/internal/db"
	httpHandlers "github.com/ignatzorin/revmark-backend/internal/http/handlers"
	"github.com/ignatzorin/revmark-backend/internal/http/middleware"
	httpRouter "github.com/ignatzorin/revmark-backend/internal/http/router"
	"github.com/ignatzorin/revmark-backend/internal/logger"
	"github.com/ignatzorin/revmark-backend/internal/task"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	logger.InitForEnv(cfg.Env)

	application, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("main: ошибка инициализации: %v", err)
	}
	defer application.Close()

	applied, err := db.RunMigrations(ctx, application.DB, cfg.MigrationsPath)
	if err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}
	for _, name := range applied {
		logger.L().WithField("migration", name).Info("main: применена миграция")
	}

	go application.Hub.Run()

	limitStore, err := middleware.NewLimiterStore(application.Redis, "revmark:limit")
	if err != nil {
		log.Fatalf("main: не удалось создать хранилище лимитов: %v", err)
	}

	// Хэндлеры.
	handlers := httpRouter.Handlers{
		Auth:         httpHandlers.NewAuthHandler(application.Auth),
		Payment:      httpHandlers.NewPaymentHandler(application.Escrow, application.Webhooks),
		Seller:       httpHandlers.NewSellerHandler(application.Sellers),
		Request:      httpHandlers.NewRequestHandler(application.Requests),
		Message:      httpHandlers.NewMessageHandler(application.Messages, cfg.Storage.MaxUploadSizeMB*1024*1024),
		Notification: httpHandlers.NewNotificationHandler(application.Notifications),
		WS:           httpHandlers.NewWSHandler(application.Hub, application.Tokens, cfg.AllowedOrigins),
	}

	probes := []httpHandlers.Probe{httpHandlers.DatabaseProbe(application.DB)}
	if application.Redis != nil {
		probes = append(probes, httpHandlers.RedisProbe(application.Redis))
	}
	handlers.Health = httpHandlers.NewHealthHandler(probes...)
	if application.LocalStorage != nil {
		handlers.Files = httpHandlers.NewFileHandler(application.LocalStorage)
	}

	engine := httpRouter.SetupRouter(cfg, handlers, application.Tokens, limitStore)

	scheduler, err := task.NewScheduler(ctx,
		task.NewReconcileJob(application.Escrow, cfg.ReconcileInterval, cfg.ReconcileAfter),
	)
	if err != nil {
		log.Fatalf("main: ошибка планировщика: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}
