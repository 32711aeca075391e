package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LocalStorage хранит файлы на диске и выдаёт подписанные HMAC ссылки,
// которые проверяет маршрут раздачи файлов.
type LocalStorage struct {
	rootPath       string
	maxUploadBytes int64
	baseURL        string
	signingKey     []byte
	now            func() time.Time
}

// NewLocalStorage создаёт файловое хранилище.
func NewLocalStorage(rootPath string, maxUploadMB int64, baseURL, signingKey string) (*LocalStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}

	return &LocalStorage{
		rootPath:       rootPath,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
		baseURL:        strings.TrimRight(baseURL, "/"),
		signingKey:     []byte(signingKey),
		now:            time.Now,
	}, nil
}

// Put сохраняет файл под ключом key.
func (s *LocalStorage) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}

	targetPath := filepath.Join(s.rootPath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: не удалось создать каталог: %w", err)
	}

	tempPath := targetPath + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("storage: не удалось создать файл: %w", err)
	}
	defer f.Close()

	limitedReader := io.LimitedReader{R: r, N: s.maxUploadBytes + 1}
	written, err := io.Copy(f, &limitedReader)
	if err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("storage: ошибка записи файла: %w", err)
	}

	if written > s.maxUploadBytes {
		_ = os.Remove(tempPath)
		return "", ErrTooLarge
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("storage: ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return "", fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}

	return key, nil
}

// PresignedURL возвращает ссылку вида <base>/files/<key>?expires=..&signature=..
func (s *LocalStorage) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}

	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.sign(key, expires))

	return fmt.Sprintf("%s/files/%s?%s", s.baseURL, key, q.Encode()), nil
}

// Open проверяет подпись ссылки и возвращает путь к файлу на диске.
func (s *LocalStorage) Open(key, expiresRaw, signature string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}

	expires, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil || s.now().Unix() > expires {
		return "", ErrInvalidKey
	}

	expected := s.sign(key, expires)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", ErrInvalidKey
	}

	target := filepath.Join(s.rootPath, filepath.FromSlash(key))
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return "", ErrObjectNotFound
		}
		return "", fmt.Errorf("storage: stat: %w", err)
	}

	return target, nil
}

// Delete удаляет файл из хранилища.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := CleanKey(key)
	if err != nil {
		return err
	}

	target := filepath.Join(s.rootPath, filepath.FromSlash(key))
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: не удалось удалить файл: %w", err)
	}
	return nil
}

func (s *LocalStorage) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
