package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message описывает сообщение между двумя пользователями.
type Message struct {
	ID          uuid.UUID           `db:"id" json:"id"`
	SenderID    uuid.UUID           `db:"sender_id" json:"sender_id"`
	ReceiverID  uuid.UUID           `db:"receiver_id" json:"receiver_id"`
	RequestID   *uuid.UUID          `db:"request_id" json:"request_id,omitempty"`
	Kind        string              `db:"kind" json:"kind"`
	Body        string              `db:"body" json:"body"`
	IsRead      bool                `db:"is_read" json:"is_read"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
	Attachments []MessageAttachment `db:"-" json:"attachments,omitempty"`
}

// MessageAttachment описывает файл в объектном хранилище.
// MessageID пуст, пока файл не прикреплён к сообщению.
type MessageAttachment struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	MessageID    *uuid.UUID `db:"message_id" json:"message_id,omitempty"`
	UploaderID   uuid.UUID  `db:"uploader_id" json:"uploader_id"`
	StorageKey   string     `db:"storage_key" json:"-"`
	OriginalName string     `db:"original_name" json:"original_name"`
	ContentType  string     `db:"content_type" json:"content_type"`
	FileSize     int64      `db:"file_size" json:"file_size"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Notification описывает событие, отправленное пользователю.
type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
