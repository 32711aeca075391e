// Package storage содержит адаптеры объектного хранилища вложений.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrInvalidKey возвращается для ключей, выходящих за пределы хранилища.
	ErrInvalidKey = errors.New("storage: invalid key")
	// ErrTooLarge возвращается, когда файл превышает лимит загрузки.
	ErrTooLarge = errors.New("storage: file too large")
	// ErrObjectNotFound возвращается, когда объекта нет в хранилище.
	ErrObjectNotFound = errors.New("storage: object not found")
)

// ObjectStorage - хранилище файлов с временными ссылками на скачивание.
type ObjectStorage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// CleanKey нормализует ключ объекта и отклоняет попытки выйти из корня.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || strings.Contains(key, "..") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
