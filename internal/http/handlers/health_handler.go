package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

const healthTimeout = 5 * time.Second

// Probe - одна проверка зависимости. Сбой некритичной проверки
// переводит сервис в degraded, но не в unhealthy.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// DatabaseProbe проверяет соединение с PostgreSQL и занятость пула.
func DatabaseProbe(db *sqlx.DB) Probe {
	return Probe{
		Name:     "database",
		Critical: true,
		Check: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			stats := db.Stats()
			if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
				return errors.New("пул соединений исчерпан")
			}
			return nil
		},
	}
}

// RedisProbe проверяет хранилище лимитов запросов.
func RedisProbe(client *redis.Client) Probe {
	return Probe{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// HealthHandler отдаёт состояние сервиса и его зависимостей.
type HealthHandler struct {
	probes []Probe
	now    func() time.Time
}

func NewHealthHandler(probes ...Probe) *HealthHandler {
	return &HealthHandler{probes: probes, now: time.Now}
}

// HealthResponse - ответ GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Health обрабатывает GET /health: 200 для healthy и degraded, 503 для unhealthy.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{
		Status: "healthy",
		Checks: make(map[string]string, len(h.probes)),
	}

	for _, p := range h.probes {
		err := p.Check(ctx)
		switch {
		case err == nil:
			resp.Checks[p.Name] = "healthy"
		case p.Critical:
			resp.Checks[p.Name] = "unhealthy: " + err.Error()
			resp.Status = "unhealthy"
		default:
			resp.Checks[p.Name] = "degraded: " + err.Error()
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}
	resp.Timestamp = h.now().UTC()

	statusCode := http.StatusOK
	if resp.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, resp)
}
