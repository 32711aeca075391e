package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/revmark-backend/internal/logger"
	"github.com/ignatzorin/revmark-backend/internal/models"
	"github.com/ignatzorin/revmark-backend/internal/pkg/apperror"
	"github.com/ignatzorin/revmark-backend/internal/repository"
	"github.com/ignatzorin/revmark-backend/internal/storage"
	"github.com/ignatzorin/revmark-backend/internal/validation"
)

// MessageRepository описывает хранилище сообщений и вложений.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message, attachmentIDs []uuid.UUID) error
	ListBetween(ctx context.Context, userID, peerID uuid.UUID, limit, offset int) ([]models.Message, error)
	ListInbox(ctx context.Context, receiverID uuid.UUID, limit, offset int) ([]models.Message, error)
	ListSent(ctx context.Context, senderID uuid.UUID, limit, offset int) ([]models.Message, error)
	MarkRead(ctx context.Context, id, receiverID uuid.UUID) error
	CountUnread(ctx context.Context, receiverID uuid.UUID) (int, error)
	CreateAttachment(ctx context.Context, att *models.MessageAttachment) error
	GetAttachment(ctx context.Context, id uuid.UUID) (*models.MessageAttachment, *models.Message, error)
}

// Допустимые расширения вложений и MIME типы, определённые по сигнатуре файла.
// Пустой список означает текстовый файл без сигнатуры.
var attachmentTypes = map[string][]string{
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".png":  {"image/png"},
	".gif":  {"image/gif"},
	".webp": {"image/webp"},
	".pdf":  {"application/pdf"},
	".zip":  {"application/zip"},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip"},
	".xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/zip"},
	".txt":  nil,
}

// сигнатуры filetype укладываются в первые 261 байт
const sniffLen = 261

// MessageConfig - ограничения вложений.
type MessageConfig struct {
	MaxUploadBytes int64
	DownloadURLTTL time.Duration
}

// SendMessageInput - новое сообщение пользователя.
type SendMessageInput struct {
	SenderID      uuid.UUID
	ReceiverID    uuid.UUID
	RequestID     *uuid.UUID
	Body          string
	AttachmentIDs []uuid.UUID
}

// AttachmentDownload - временная ссылка на скачивание.
type AttachmentDownload struct {
	URL          string    `json:"url"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// MessageService отвечает за переписку пользователей и вложения.
type MessageService struct {
	repo     MessageRepository
	requests RequestReader
	users    UserReader
	storage  storage.ObjectStorage
	hub      Broadcaster
	cfg      MessageConfig
	now      func() time.Time
}

// NewMessageService создаёт сервис сообщений.
func NewMessageService(repo MessageRepository, requests RequestReader, users UserReader, store storage.ObjectStorage, hub Broadcaster, cfg MessageConfig) *MessageService {
	if cfg.DownloadURLTTL <= 0 {
		cfg.DownloadURLTTL = time.Hour
	}
	return &MessageService{
		repo:     repo,
		requests: requests,
		users:    users,
		storage:  store,
		hub:      hub,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Send сохраняет сообщение и доставляет его получателю.
func (s *MessageService) Send(ctx context.Context, in SendMessageInput) (*models.Message, error) {
	in.Body = strings.TrimSpace(in.Body)
	if len(in.AttachmentIDs) == 0 {
		if err := validation.ValidateMessageContent(in.Body); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
		}
	} else if err := validation.ValidateLength("сообщение", in.Body, 0, validation.MaxMessageLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if in.SenderID == in.ReceiverID {
		return nil, apperror.New(apperror.ErrCodeValidation, "нельзя отправить сообщение самому себе")
	}

	if _, err := s.users.GetByID(ctx, in.ReceiverID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось загрузить получателя")
	}

	if in.RequestID != nil {
		if err := s.checkRequestLink(ctx, *in.RequestID, in.SenderID, in.ReceiverID); err != nil {
			return nil, err
		}
	}

	msg := &models.Message{
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		RequestID:  in.RequestID,
		Kind:       models.MessageKindUser,
		Body:       in.Body,
	}
	if err := s.repo.Create(ctx, msg, in.AttachmentIDs); err != nil {
		if errors.Is(err, repository.ErrAttachmentUnavailable) {
			return nil, apperror.New(apperror.ErrCodeValidation, "вложение не найдено или уже прикреплено")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось отправить сообщение")
	}

	s.deliver(msg)
	return msg, nil
}

// SendSystemMessage пишет служебное сообщение о событии заявки.
func (s *MessageService) SendSystemMessage(ctx context.Context, senderID, receiverID, requestID uuid.UUID, body string) (*models.Message, error) {
	reqID := requestID
	msg := &models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		RequestID:  &reqID,
		Kind:       models.MessageKindSystem,
		Body:       body,
	}
	if err := s.repo.Create(ctx, msg, nil); err != nil {
		return nil, fmt.Errorf("message service: system message %w", err)
	}

	s.deliver(msg)
	return msg, nil
}

// Thread возвращает переписку пользователя с собеседником.
func (s *MessageService) Thread(ctx context.Context, userID, peerID uuid.UUID, limit, offset int) ([]models.Message, error) {
	limit, offset = messagePage(limit, offset)
	messages, err := s.repo.ListBetween(ctx, userID, peerID, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить переписку")
	}
	return messages, nil
}

// Inbox возвращает входящие сообщения пользователя.
func (s *MessageService) Inbox(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Message, error) {
	limit, offset = messagePage(limit, offset)
	messages, err := s.repo.ListInbox(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить входящие")
	}
	return messages, nil
}

// Sent возвращает отправленные пользователем сообщения.
func (s *MessageService) Sent(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Message, error) {
	limit, offset = messagePage(limit, offset)
	messages, err := s.repo.ListSent(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить отправленные")
	}
	return messages, nil
}

// MarkRead отмечает входящее сообщение прочитанным.
func (s *MessageService) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	if err := s.repo.MarkRead(ctx, id, userID); err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return apperror.ErrMessageNotFound
		}
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось обновить сообщение")
	}
	return nil
}

// UnreadCount возвращает количество непрочитанных входящих сообщений.
func (s *MessageService) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// UploadAttachment проверяет файл, кладёт его в хранилище и сохраняет метаданные.
// Вложение прикрепляется к сообщению позже, при отправке.
func (s *MessageService) UploadAttachment(ctx context.Context, uploaderID uuid.UUID, filename string, size int64, r io.Reader) (*models.MessageAttachment, error) {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	ext := strings.ToLower(filepath.Ext(name))
	allowed, ok := attachmentTypes[ext]
	if !ok || name == "." || name == "/" {
		return nil, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("тип файла %q не поддерживается", ext))
	}
	if err := validation.ValidateFileName(name); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if size <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "файл не может быть пустым")
	}
	if s.cfg.MaxUploadBytes > 0 && size > s.cfg.MaxUploadBytes {
		return nil, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("размер файла превышает %d байт", s.cfg.MaxUploadBytes))
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, apperror.Wrap(err, apperror.ErrCodeBadRequest, "не удалось прочитать файл")
	}
	head = head[:n]

	contentType, err := sniffContentType(head, allowed)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("attachments/%s%s", strings.ReplaceAll(uuid.NewString(), "-", ""), ext)
	body := io.MultiReader(bytes.NewReader(head), r)
	if _, err := s.storage.Put(ctx, key, body, size, contentType); err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, apperror.New(apperror.ErrCodeValidation, "файл слишком большой")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сохранить файл")
	}

	if len(name) > 255 {
		name = name[len(name)-255:]
	}
	att := &models.MessageAttachment{
		UploaderID:   uploaderID,
		StorageKey:   key,
		OriginalName: name,
		ContentType:  contentType,
		FileSize:     size,
	}
	if err := s.repo.CreateAttachment(ctx, att); err != nil {
		if delErr := s.storage.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			logger.L().WithField("key", key).WithError(delErr).Warn("не удалось удалить осиротевший файл")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить вложение")
	}

	logger.L().WithFields(logrus.Fields{
		"attachment_id": att.ID,
		"uploader_id":   uploaderID,
		"size":          size,
	}).Debug("вложение загружено")

	return att, nil
}

// DownloadURL выдаёт временную ссылку на вложение отправителю или получателю сообщения.
func (s *MessageService) DownloadURL(ctx context.Context, attachmentID, userID uuid.UUID) (*AttachmentDownload, error) {
	att, msg, err := s.repo.GetAttachment(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, repository.ErrAttachmentNotFound) {
			return nil, apperror.ErrFileNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось загрузить вложение")
	}

	switch {
	case msg != nil && (msg.SenderID == userID || msg.ReceiverID == userID):
	case msg == nil && att.UploaderID == userID:
	default:
		return nil, apperror.ErrForbidden
	}

	url, err := s.storage.PresignedURL(ctx, att.StorageKey, s.cfg.DownloadURLTTL)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сформировать ссылку")
	}

	return &AttachmentDownload{
		URL:          url,
		OriginalName: att.OriginalName,
		ContentType:  att.ContentType,
		ExpiresAt:    s.now().Add(s.cfg.DownloadURLTTL).UTC(),
	}, nil
}

// checkRequestLink разрешает ссылаться на заявку только в переписке с её покупателем.
func (s *MessageService) checkRequestLink(ctx context.Context, requestID, senderID, receiverID uuid.UUID) error {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrRequestNotFound) {
			return apperror.ErrRequestNotFound
		}
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось загрузить заявку")
	}
	if !req.IsBuyer(senderID) && !req.IsBuyer(receiverID) {
		return apperror.ErrNotParticipant
	}
	return nil
}

func messagePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *MessageService) deliver(msg *models.Message) {
	if s.hub == nil {
		return
	}
	if err := s.hub.BroadcastToUser(msg.ReceiverID, models.EventMessageNew, msg); err != nil {
		logger.L().WithField("message_id", msg.ID).WithError(err).Warn("не удалось доставить сообщение")
	}
}

// sniffContentType сверяет сигнатуру файла с допустимыми для расширения типами.
func sniffContentType(head []byte, allowed []string) (string, error) {
	kind, err := filetype.Match(head)
	if err != nil {
		return "", apperror.Wrap(err, apperror.ErrCodeValidation, "не удалось определить тип файла")
	}

	if len(allowed) == 0 {
		if kind != filetype.Unknown || !isTextPrefix(head) {
			return "", apperror.New(apperror.ErrCodeValidation, "содержимое не похоже на текстовый файл")
		}
		return "text/plain; charset=utf-8", nil
	}

	if kind == filetype.Unknown {
		return "", apperror.New(apperror.ErrCodeValidation, "не удалось определить тип файла")
	}
	for _, mime := range allowed {
		if kind.MIME.Value == mime {
			return allowed[0], nil
		}
	}
	return "", apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("содержимое файла (%s) не соответствует расширению", kind.MIME.Value))
}

// isTextPrefix допускает обрезанный последний символ: head - только начало файла.
func isTextPrefix(head []byte) bool {
	for cut := 0; cut < utf8.UTFMax && cut <= len(head); cut++ {
		if utf8.Valid(head[:len(head)-cut]) {
			return true
		}
	}
	return false
}
