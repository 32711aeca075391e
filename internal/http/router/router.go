package router

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"github.com/ignatzorin/revmark-backend/internal/config"
	"github.com/ignatzorin/revmark-backend/internal/http/handlers"
	"github.com/ignatzorin/revmark-backend/internal/http/middleware"
	"github.com/ignatzorin/revmark-backend/internal/service"
)

// authRateLimit - лимит попыток входа и регистрации за период RATE_LIMIT_PERIOD.
const authRateLimit = 5

// Handlers собирает все HTTP хэндлеры приложения.
// Files задаётся только для локального хранилища.
type Handlers struct {
	Auth         *handlers.AuthHandler
	Payment      *handlers.PaymentHandler
	Seller       *handlers.SellerHandler
	Request      *handlers.RequestHandler
	Message      *handlers.MessageHandler
	Notification *handlers.NotificationHandler
	WS           *handlers.WSHandler
	Health       *handlers.HealthHandler
	Files        *handlers.FileHandler
}

func SetupRouter(cfg *config.Config, h Handlers, tokenManager *service.TokenManager, limitStore limiter.Store) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)
	// вебхук без JWT: подлинность проверяется подписью
	r.POST("/webhook", h.Payment.Webhook)
	if h.Files != nil {
		r.GET("/files/*key", h.Files.Serve)
	}

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware(limitStore, authRateLimit, cfg.RateLimitPeriod))
	{
		authGroup.POST("/register", h.Auth.Register)
		authGroup.POST("/login", h.Auth.Login)
		authGroup.POST("/refresh", h.Auth.Refresh)
		authGroup.POST("/logout", h.Auth.Logout)
	}

	auth := middleware.AuthMiddleware(tokenManager)

	protectedAuth := api.Group("/auth")
	protectedAuth.Use(auth)
	{
		protectedAuth.GET("/me", h.Auth.Me)
		protectedAuth.PUT("/me", h.Auth.UpdateMe)
		protectedAuth.GET("/sessions", h.Auth.ListSessions)
		protectedAuth.DELETE("/sessions/:id", middleware.UUIDValidator("id"), h.Auth.DeleteSession)
		protectedAuth.DELETE("/sessions", h.Auth.DeleteAllSessionsExcept)
	}

	api.GET("/ws", h.WS.Handle)

	protected := api.Group("/")
	protected.Use(auth)
	{
		payments := protected.Group("/payment")
		payments.Use(middleware.RateLimitMiddleware(limitStore, cfg.RateLimitLimit, cfg.RateLimitPeriod))
		{
			payments.POST("/create-intent", h.Payment.CreateIntent)
			payments.POST("/release", h.Payment.Release)
			payments.POST("/refund", h.Payment.Refund)
			payments.GET("/history/:request_id", middleware.UUIDValidator("request_id"), h.Payment.History)
		}

		protected.POST("/seller/connect", h.Seller.Connect)
		protected.GET("/seller/status", h.Seller.Status)

		protected.POST("/requests", h.Request.Create)
		protected.GET("/requests", h.Request.List)
		protected.GET("/requests/my", h.Request.ListMy)
		protected.GET("/requests/:id", middleware.UUIDValidator("id"), h.Request.Get)
		protected.PUT("/requests/:id", middleware.UUIDValidator("id"), h.Request.Update)
		protected.DELETE("/requests/:id", middleware.UUIDValidator("id"), h.Request.Delete)

		protected.POST("/messages", h.Message.Send)
		protected.GET("/messages/inbox", h.Message.Inbox)
		protected.GET("/messages/sent", h.Message.Sent)
		protected.GET("/messages/with/:user_id", middleware.UUIDValidator("user_id"), h.Message.Thread)
		protected.GET("/messages/unread/count", h.Message.UnreadCount)
		protected.PUT("/messages/:id/read", middleware.UUIDValidator("id"), h.Message.MarkRead)
		protected.POST("/attachments", h.Message.UploadAttachment)
		protected.GET("/attachments/:id/download", middleware.UUIDValidator("id"), h.Message.DownloadAttachment)

		protected.GET("/notifications", h.Notification.ListNotifications)
		protected.GET("/notifications/unread/count", h.Notification.CountUnread)
		protected.PUT("/notifications/:id/read", middleware.UUIDValidator("id"), h.Notification.MarkAsRead)
		protected.PUT("/notifications/read-all", h.Notification.MarkAllAsRead)
	}

	return r
}
