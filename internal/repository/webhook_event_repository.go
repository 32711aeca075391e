package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// WebhookEventRepository фиксирует полученные события шлюза.
type WebhookEventRepository struct {
	db *sqlx.DB
}

// NewWebhookEventRepository создаёт репозиторий событий.
func NewWebhookEventRepository(db *sqlx.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Register сохраняет событие. Возвращает false, если событие уже обработано ранее.
// Событие, сохранённое без processed_at (сбой обработки), можно обработать повторно.
func (r *WebhookEventRepository) Register(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	var inserted bool
	err := r.db.GetContext(ctx, &inserted, `
		INSERT INTO webhook_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO UPDATE SET event_type = EXCLUDED.event_type
		RETURNING processed_at IS NULL
	`, provider, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("webhook event repository: register %w", err)
	}

	return inserted, nil
}

// MarkProcessed отмечает событие обработанным.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, provider, eventID string) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET processed_at = NOW()
		WHERE provider = $1 AND event_id = $2
	`, provider, eventID); err != nil {
		return fmt.Errorf("webhook event repository: mark processed %w", err)
	}

	return nil
}
