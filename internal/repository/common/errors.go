package common

import (
	"errors"

	"github.com/lib/pq"
)

// Общие ошибки для всех репозиториев
var (
	ErrAlreadyExists  = errors.New("entity already exists")
	ErrStatusConflict = errors.New("status changed concurrently")
)

const uniqueViolation = "23505"

// IsUniqueViolation сообщает, что PostgreSQL отклонил запись по уникальному ограничению.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
