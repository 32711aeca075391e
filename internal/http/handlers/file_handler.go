package handlers

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/revmark-backend/internal/http/handlers/common"
	"github.com/ignatzorin/revmark-backend/internal/storage"
)

// FileOpener проверяет подписанную ссылку и возвращает путь к файлу.
type FileOpener interface {
	Open(key, expires, signature string) (string, error)
}

// FileHandler раздаёт файлы локального хранилища по подписанным ссылкам.
type FileHandler struct {
	files FileOpener
}

// NewFileHandler создаёт хэндлер.
func NewFileHandler(files FileOpener) *FileHandler {
	return &FileHandler{files: files}
}

// Serve обрабатывает GET /files/*key?expires=...&signature=...
func (h *FileHandler) Serve(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")

	target, err := h.files.Open(key, c.Query("expires"), c.Query("signature"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidKey):
			common.RespondError(c, http.StatusForbidden, "ссылка недействительна или устарела")
		case errors.Is(err, storage.ErrObjectNotFound):
			common.RespondError(c, http.StatusNotFound, "файл не найден")
		default:
			common.RespondInternalError(c, "")
		}
		return
	}

	c.Header("Cache-Control", "private, no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.FileAttachment(target, path.Base(key))
}
