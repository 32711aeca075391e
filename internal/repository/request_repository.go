package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/revmark-backend/internal/domain/valueobject"
	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/repository/common"
)

var (
	// ErrRequestNotFound возвращается, когда заявка не найдена.
	ErrRequestNotFound = errors.New("request not found")
	// ErrPaymentInFlight возвращается при отмене заявки, по которой покупатель ещё может оплатить платёж в шлюзе.
	ErrPaymentInFlight = errors.New("request has a live payment attempt")
)

// RequestFilter описывает параметры выборки заявок.
type RequestFilter struct {
	Status        *valueobject.RequestStatus
	BuyerID       *uuid.UUID
	ParticipantID *uuid.UUID
	Limit         int
	Offset        int
}

// RequestRepository отвечает за таблицу requests.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository создаёт репозиторий заявок.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create создаёт новую заявку в статусе open.
func (r *RequestRepository) Create(ctx context.Context, req *models.Request) error {
	query := `
		INSERT INTO requests (title, description, budget_cents, buyer_id, status)
		VALUES ($1, $2, $3, $4, 'open')
		RETURNING id, status, created_at, updated_at
	`

	if err := r.db.QueryRowxContext(
		ctx, query,
		req.Title, req.Description, req.Budget, req.BuyerID,
	).Scan(&req.ID, &req.Status, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return fmt.Errorf("request repository: create %w", err)
	}

	return nil
}

// GetByID возвращает заявку по идентификатору.
func (r *RequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	return common.GetByID[models.Request](ctx, r.db, "requests", id, ErrRequestNotFound)
}

// List возвращает заявки по фильтру, новые первыми.
func (r *RequestRepository) List(ctx context.Context, filter RequestFilter) ([]models.Request, error) {
	query := `SELECT * FROM requests WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.BuyerID != nil {
		query += fmt.Sprintf(" AND buyer_id = $%d", argIndex)
		args = append(args, *filter.BuyerID)
		argIndex++
	}
	if filter.ParticipantID != nil {
		query += fmt.Sprintf(" AND (buyer_id = $%d OR seller_id = $%d)", argIndex, argIndex)
		args = append(args, *filter.ParticipantID)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	requests := []models.Request{}
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("request repository: list %w", err)
	}

	return requests, nil
}

// Update меняет описательные поля заявки.
// Редактировать можно только открытую заявку её покупателя.
func (r *RequestRepository) Update(ctx context.Context, req *models.Request) error {
	query := `
		UPDATE requests
		SET title = $3, description = $4, budget_cents = $5, updated_at = NOW()
		WHERE id = $1 AND buyer_id = $2 AND status = 'open'
		RETURNING updated_at
	`

	if err := r.db.QueryRowxContext(
		ctx, query,
		req.ID, req.BuyerID, req.Title, req.Description, req.Budget,
	).Scan(&req.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrStatusConflict
		}
		return fmt.Errorf("request repository: update %w", err)
	}

	return nil
}

// Delete удаляет открытую заявку без платежей или отменяет её, если попытки оплаты уже были.
// Попытки без ссылки шлюза закрываются в той же транзакции. Если есть pending попытка
// со ссылкой, её сначала нужно отменить в шлюзе, иначе ErrPaymentInFlight.
// Возвращает true, если запись удалена физически.
func (r *RequestRepository) Delete(ctx context.Context, id, buyerID uuid.UUID) (bool, error) {
	var hardDeleted bool

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var status valueobject.RequestStatus
		err := tx.GetContext(ctx, &status, `SELECT status FROM requests WHERE id = $1 AND buyer_id = $2 FOR UPDATE`, id, buyerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRequestNotFound
			}
			return fmt.Errorf("request repository: delete lock %w", err)
		}
		if !status.IsCancellable() {
			return common.ErrStatusConflict
		}

		var counts struct {
			Total int `db:"total"`
			Live  int `db:"live"`
		}
		if err := tx.GetContext(ctx, &counts, `
			SELECT COUNT(*) AS total,
				COUNT(*) FILTER (WHERE status = 'pending' AND payment_intent_id IS NOT NULL) AS live
			FROM escrow_payments
			WHERE request_id = $1
		`, id); err != nil {
			return fmt.Errorf("request repository: delete count payments %w", err)
		}

		if counts.Live > 0 {
			return ErrPaymentInFlight
		}

		if counts.Total == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE id = $1`, id); err != nil {
				return fmt.Errorf("request repository: delete %w", err)
			}
			hardDeleted = true
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE escrow_payments
			SET status = 'failed', failure_reason = 'request cancelled', updated_at = NOW()
			WHERE request_id = $1 AND status = 'pending'
		`, id); err != nil {
			return fmt.Errorf("request repository: close attempts %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE requests SET status = 'cancelled', updated_at = NOW() WHERE id = $1`, id); err != nil {
			return fmt.Errorf("request repository: cancel %w", err)
		}
		return nil
	})

	return hardDeleted, err
}
