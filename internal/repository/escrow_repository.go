package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/revmark-backend/internal/domain/valueobject"
	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/repository/common"
)

var (
	// ErrPaymentNotFound возвращается, когда попытка оплаты не найдена.
	ErrPaymentNotFound = errors.New("escrow payment not found")
	// ErrDuplicatePaymentReference возвращается при повторном сохранении одного внешнего платежа.
	ErrDuplicatePaymentReference = errors.New("duplicate payment reference")
	// ErrPendingAttemptExists возвращается, когда у заявки уже есть незавершённая попытка оплаты.
	ErrPendingAttemptExists = errors.New("pending escrow payment already exists")
)

// heldStatuses - статусы платежа, при которых средства удерживаются платформой.
var heldStatuses = pq.Array(statusStrings(valueobject.HeldPaymentStatuses()))

func statusStrings(statuses []valueobject.PaymentStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

// EscrowRepository хранит попытки оплаты и выполняет переходы статусов заявки и платежа.
// Каждый переход - условный UPDATE в одной транзакции: 0 затронутых строк означает,
// что статус уже изменился, и возвращается common.ErrStatusConflict.
type EscrowRepository struct {
	db *sqlx.DB
}

// NewEscrowRepository создаёт репозиторий.
func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// CreateAttempt сохраняет попытку оплаты в статусе pending без внешней ссылки.
// Вставка выполняется только если заявка всё ещё open, иначе ErrStatusConflict.
// Уникальный индекс допускает одну pending попытку на заявку, вторая - ErrPendingAttemptExists.
func (r *EscrowRepository) CreateAttempt(ctx context.Context, p *models.EscrowPayment) error {
	query := `
		INSERT INTO escrow_payments (request_id, buyer_id, seller_id, amount_cents, platform_fee_cents, seller_amount_cents, currency, status)
		SELECT r.id, $2, $3, $4, $5, $6, $7, 'pending'
		FROM requests r
		WHERE r.id = $1 AND r.status = 'open'
		RETURNING id, status, created_at, updated_at
	`

	err := r.db.QueryRowxContext(
		ctx, query,
		p.RequestID, p.BuyerID, p.SellerID, p.Amount, p.PlatformFee, p.SellerAmount, p.Currency,
	).Scan(&p.ID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrStatusConflict
		}
		if common.IsUniqueViolation(err) {
			return ErrPendingAttemptExists
		}
		return fmt.Errorf("escrow repository: create attempt %w", err)
	}

	return nil
}

// AttachReference сохраняет ссылку шлюза на попытке и штампует заявку ссылкой и суммами.
// Статус заявки не меняется: перевод в funded выполняет только подтверждение шлюза.
func (r *EscrowRepository) AttachReference(ctx context.Context, paymentID uuid.UUID, reference string) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE escrow_payments
			SET payment_intent_id = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'pending' AND payment_intent_id IS NULL
		`, paymentID, reference)
		if err != nil {
			if common.IsUniqueViolation(err) {
				return ErrDuplicatePaymentReference
			}
			return fmt.Errorf("escrow repository: attach reference %w", err)
		}
		if err := common.ExpectOneRow(res, common.ErrStatusConflict); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE requests r
			SET payment_intent_id = p.payment_intent_id,
				escrow_amount_cents = p.amount_cents,
				platform_fee_cents = p.platform_fee_cents,
				updated_at = NOW()
			FROM escrow_payments p
			WHERE p.id = $1 AND r.id = p.request_id AND r.status = 'open'
		`, paymentID)
		if err != nil {
			return fmt.Errorf("escrow repository: stamp request %w", err)
		}
		return common.ExpectOneRow(res, common.ErrStatusConflict)
	})
}

// MarkFailed переводит pending попытку в failed. Возвращает false, если попытка уже не pending.
func (r *EscrowRepository) MarkFailed(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE escrow_payments
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, paymentID, reason)
	if err != nil {
		return false, fmt.Errorf("escrow repository: mark failed %w", err)
	}

	if err := common.ExpectOneRow(res, common.ErrStatusConflict); err != nil {
		if errors.Is(err, common.ErrStatusConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RecordDecline сохраняет причину отказа списания, оставляя попытку pending:
// покупатель может повторить оплату того же платежа.
func (r *EscrowRepository) RecordDecline(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE escrow_payments
		SET failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, paymentID, reason)
	if err != nil {
		return false, fmt.Errorf("escrow repository: record decline %w", err)
	}

	if err := common.ExpectOneRow(res, common.ErrStatusConflict); err != nil {
		if errors.Is(err, common.ErrStatusConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetByID возвращает попытку оплаты по идентификатору.
func (r *EscrowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowPayment, error) {
	return common.GetByID[models.EscrowPayment](ctx, r.db, "escrow_payments", id, ErrPaymentNotFound)
}

// GetByReference возвращает попытку оплаты по ссылке шлюза.
func (r *EscrowRepository) GetByReference(ctx context.Context, reference string) (*models.EscrowPayment, error) {
	return common.GetByField[models.EscrowPayment](ctx, r.db, "escrow_payments", "payment_intent_id", reference, ErrPaymentNotFound)
}

// ConfirmFunding применяет успешное подтверждение шлюза:
// платёж pending (или закрытый локально failed) -> paid, заявка open -> funded
// с продавцом, ссылкой и суммами попытки.
// Возвращает false без изменений, если платёж уже paid или дальше (повтор события).
func (r *EscrowRepository) ConfirmFunding(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	applied := false

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		p, err := common.LockByID[models.EscrowPayment](ctx, tx, "escrow_payments", paymentID, ErrPaymentNotFound)
		if err != nil {
			return err
		}
		if !p.Status.CanTransitionTo(valueobject.PaymentStatusPaid) {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE requests
			SET status = 'funded',
				seller_id = $2,
				payment_intent_id = $3,
				escrow_amount_cents = $4,
				platform_fee_cents = $5,
				updated_at = NOW()
			WHERE id = $1 AND status = 'open'
		`, p.RequestID, p.SellerID, p.PaymentIntentID, p.Amount, p.PlatformFee)
		if err != nil {
			return fmt.Errorf("escrow repository: fund request %w", err)
		}
		if err := common.ExpectOneRow(res, common.ErrStatusConflict); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE escrow_payments
			SET status = 'paid', failure_reason = NULL, updated_at = NOW()
			WHERE id = $1 AND status = $2
		`, paymentID, p.Status)
		if err != nil {
			return fmt.Errorf("escrow repository: mark paid %w", err)
		}
		if err := common.ExpectOneRow(res, common.ErrStatusConflict); err != nil {
			return err
		}

		applied = true
		return nil
	})

	return applied, err
}

// CompleteRelease фиксирует успешный перевод продавцу:
// платёж -> completed, заявка funded -> completed, обе записи получают ссылку перевода.
func (r *EscrowRepository) CompleteRelease(ctx context.Context, paymentID, requestID uuid.UUID, transferID string, completedAt time.Time) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE escrow_payments
			SET status = 'completed', transfer_id = $2, completed_at = $3, updated_at = NOW()
			WHERE id = $1 AND status = ANY($4)
		`, paymentID, transferID, completedAt, heldStatuses)
		if err != nil {
			return fmt.Errorf("escrow repository: complete payment %w", err)
		}
		if err := common.ExpectOneRow(res, common.ErrStatusConflict); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE requests
			SET status = 'completed', transfer_id = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'funded'
		`, requestID, transferID)
		if err != nil {
			return fmt.Errorf("escrow repository: complete request %w", err)
		}
		return common.ExpectOneRow(res, common.ErrStatusConflict)
	})
}

// CompleteRefund фиксирует возврат покупателю: платёж -> refunded, заявка -> cancelled.
func (r *EscrowRepository) CompleteRefund(ctx context.Context, paymentID, requestID uuid.UUID, refundID string, refundedAt time.Time) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE escrow_payments
			SET status = 'refunded', refund_id = $2, completed_at = $3, updated_at = NOW()
			WHERE id = $1 AND status = ANY($4)
		`, paymentID, refundID, refundedAt, heldStatuses)
		if err != nil {
			return fmt.Errorf("escrow repository: refund payment %w", err)
		}
		if err := common.ExpectOneRow(res, common.ErrStatusConflict); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE requests
			SET status = 'cancelled', updated_at = NOW()
			WHERE id = $1 AND status IN ('funded', 'in_progress')
		`, requestID)
		if err != nil {
			return fmt.Errorf("escrow repository: cancel request %w", err)
		}
		return common.ExpectOneRow(res, common.ErrStatusConflict)
	})
}

// ListByRequest возвращает все попытки оплаты заявки в порядке создания.
func (r *EscrowRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.EscrowPayment, error) {
	payments := []models.EscrowPayment{}
	if err := r.db.SelectContext(ctx, &payments, `
		SELECT * FROM escrow_payments
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC
	`, requestID); err != nil {
		return nil, fmt.Errorf("escrow repository: list by request %w", err)
	}

	return payments, nil
}

// ListPending возвращает незавершённые попытки оплаты заявки.
func (r *EscrowRepository) ListPending(ctx context.Context, requestID uuid.UUID) ([]models.EscrowPayment, error) {
	payments := []models.EscrowPayment{}
	if err := r.db.SelectContext(ctx, &payments, `
		SELECT * FROM escrow_payments
		WHERE request_id = $1 AND status = 'pending'
		ORDER BY created_at ASC
	`, requestID); err != nil {
		return nil, fmt.Errorf("escrow repository: list pending %w", err)
	}

	return payments, nil
}

// ListStalePending возвращает pending попытки со ссылкой шлюза, созданные раньше before.
func (r *EscrowRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.EscrowPayment, error) {
	payments := []models.EscrowPayment{}
	if err := r.db.SelectContext(ctx, &payments, `
		SELECT * FROM escrow_payments
		WHERE status = 'pending' AND payment_intent_id IS NOT NULL AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, before, limit); err != nil {
		return nil, fmt.Errorf("escrow repository: list stale pending %w", err)
	}

	return payments, nil
}

// FailAbandonedAttempts закрывает попытки, для которых шлюз так и не вернул ссылку.
// Покупатель не получил client_secret по такой попытке, оплатить её невозможно.
func (r *EscrowRepository) FailAbandonedAttempts(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE escrow_payments
		SET status = 'failed', failure_reason = 'gateway reference was never stored', updated_at = NOW()
		WHERE status = 'pending' AND payment_intent_id IS NULL AND created_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("escrow repository: fail abandoned %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("escrow repository: fail abandoned rows affected %w", err)
	}
	return n, nil
}
