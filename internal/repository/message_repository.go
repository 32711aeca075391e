package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/repository/common"
)

var (
	// ErrMessageNotFound возвращается, когда сообщение не найдено.
	ErrMessageNotFound = errors.New("message not found")
	// ErrAttachmentNotFound возвращается, когда вложение не найдено.
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrAttachmentUnavailable возвращается, когда вложение чужое или уже прикреплено.
	ErrAttachmentUnavailable = errors.New("attachment unavailable")
)

// MessageRepository отвечает за сообщения и их вложения.
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository создаёт репозиторий сообщений.
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create сохраняет сообщение и прикрепляет к нему ранее загруженные файлы отправителя.
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message, attachmentIDs []uuid.UUID) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO messages (sender_id, receiver_id, request_id, kind, body)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, is_read, created_at
		`
		if err := tx.QueryRowxContext(
			ctx, query,
			msg.SenderID, msg.ReceiverID, msg.RequestID, msg.Kind, msg.Body,
		).Scan(&msg.ID, &msg.IsRead, &msg.CreatedAt); err != nil {
			return fmt.Errorf("message repository: create %w", err)
		}

		if len(attachmentIDs) == 0 {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE message_attachments
			SET message_id = $1
			WHERE id = ANY($2) AND uploader_id = $3 AND message_id IS NULL
		`, msg.ID, pq.Array(attachmentIDs), msg.SenderID)
		if err != nil {
			return fmt.Errorf("message repository: attach files %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("message repository: attach files rows affected %w", err)
		}
		if int(n) != len(attachmentIDs) {
			return ErrAttachmentUnavailable
		}

		attachments := []models.MessageAttachment{}
		if err := tx.SelectContext(ctx, &attachments, `
			SELECT * FROM message_attachments WHERE message_id = $1 ORDER BY created_at
		`, msg.ID); err != nil {
			return fmt.Errorf("message repository: load attachments %w", err)
		}
		msg.Attachments = attachments
		return nil
	})
}

// GetByID возвращает сообщение вместе с вложениями.
func (r *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	msg, err := common.GetByID[models.Message](ctx, r.db, "messages", id, ErrMessageNotFound)
	if err != nil {
		return nil, err
	}

	if err := r.db.SelectContext(ctx, &msg.Attachments, `
		SELECT * FROM message_attachments WHERE message_id = $1 ORDER BY created_at
	`, id); err != nil {
		return nil, fmt.Errorf("message repository: get attachments %w", err)
	}

	return msg, nil
}

// ListBetween возвращает переписку двух пользователей в хронологическом порядке.
func (r *MessageRepository) ListBetween(ctx context.Context, userID, peerID uuid.UUID, limit, offset int) ([]models.Message, error) {
	query := `
		SELECT * FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC
	`
	args := []interface{}{userID, peerID}
	argIndex := 3

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, offset)
	}

	messages := []models.Message{}
	if err := r.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, fmt.Errorf("message repository: list between %w", err)
	}

	if err := r.loadAttachments(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// ListInbox возвращает входящие сообщения пользователя, новые первыми.
func (r *MessageRepository) ListInbox(ctx context.Context, receiverID uuid.UUID, limit, offset int) ([]models.Message, error) {
	return r.listByParty(ctx, "receiver_id", receiverID, limit, offset)
}

// ListSent возвращает отправленные пользователем сообщения, новые первыми.
func (r *MessageRepository) ListSent(ctx context.Context, senderID uuid.UUID, limit, offset int) ([]models.Message, error) {
	return r.listByParty(ctx, "sender_id", senderID, limit, offset)
}

// column подставляется в запрос как есть: только sender_id или receiver_id.
func (r *MessageRepository) listByParty(ctx context.Context, column string, userID uuid.UUID, limit, offset int) ([]models.Message, error) {
	query := fmt.Sprintf(`
		SELECT * FROM messages
		WHERE %s = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, column)

	messages := []models.Message{}
	if err := r.db.SelectContext(ctx, &messages, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("message repository: list by %s %w", column, err)
	}

	if err := r.loadAttachments(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// loadAttachments одним запросом подгружает вложения для списка сообщений.
func (r *MessageRepository) loadAttachments(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	messageIDs := make([]uuid.UUID, len(messages))
	for i := range messages {
		messageIDs[i] = messages[i].ID
	}

	var attachments []models.MessageAttachment
	if err := r.db.SelectContext(ctx, &attachments, `
		SELECT * FROM message_attachments
		WHERE message_id = ANY($1)
		ORDER BY message_id, created_at
	`, pq.Array(messageIDs)); err != nil {
		return fmt.Errorf("message repository: list attachments %w", err)
	}

	byMessage := make(map[uuid.UUID][]models.MessageAttachment)
	for _, att := range attachments {
		if att.MessageID != nil {
			byMessage[*att.MessageID] = append(byMessage[*att.MessageID], att)
		}
	}
	for i := range messages {
		messages[i].Attachments = byMessage[messages[i].ID]
	}
	return nil
}

// MarkRead отмечает входящее сообщение прочитанным.
func (r *MessageRepository) MarkRead(ctx context.Context, id, receiverID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE WHERE id = $1 AND receiver_id = $2
	`, id, receiverID)
	if err != nil {
		return fmt.Errorf("message repository: mark read %w", err)
	}

	return common.ExpectOneRow(res, ErrMessageNotFound)
}

// CountUnread возвращает количество непрочитанных входящих сообщений.
func (r *MessageRepository) CountUnread(ctx context.Context, receiverID uuid.UUID) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND is_read = FALSE
	`, receiverID); err != nil {
		return 0, fmt.Errorf("message repository: count unread %w", err)
	}

	return count, nil
}

// CreateAttachment сохраняет метаданные загруженного файла без привязки к сообщению.
func (r *MessageRepository) CreateAttachment(ctx context.Context, att *models.MessageAttachment) error {
	query := `
		INSERT INTO message_attachments (uploader_id, storage_key, original_name, content_type, file_size)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	if err := r.db.QueryRowxContext(
		ctx, query,
		att.UploaderID, att.StorageKey, att.OriginalName, att.ContentType, att.FileSize,
	).Scan(&att.ID, &att.CreatedAt); err != nil {
		return fmt.Errorf("message repository: create attachment %w", err)
	}

	return nil
}

// GetAttachment возвращает вложение вместе с участниками сообщения, если оно прикреплено.
func (r *MessageRepository) GetAttachment(ctx context.Context, id uuid.UUID) (*models.MessageAttachment, *models.Message, error) {
	att, err := common.GetByID[models.MessageAttachment](ctx, r.db, "message_attachments", id, ErrAttachmentNotFound)
	if err != nil {
		return nil, nil, err
	}
	if att.MessageID == nil {
		return att, nil, nil
	}

	var msg models.Message
	if err := r.db.GetContext(ctx, &msg, `SELECT * FROM messages WHERE id = $1`, *att.MessageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return att, nil, nil
		}
		return nil, nil, fmt.Errorf("message repository: get attachment message %w", err)
	}

	return att, &msg, nil
}
