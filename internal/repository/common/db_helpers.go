package common

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Querier - общий интерфейс *sqlx.DB и *sqlx.Tx для чтения.
type Querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// GetByID возвращает строку таблицы по id или notFoundErr.
func GetByID[T any](ctx context.Context, q Querier, table string, id interface{}, notFoundErr error) (*T, error) {
	return getOne[T](ctx, q, table, "id", id, "", notFoundErr)
}

// GetByField возвращает первую строку, у которой field = value.
// field подставляется в запрос как есть и не должен приходить от клиента.
func GetByField[T any](ctx context.Context, q Querier, table, field string, value interface{}, notFoundErr error) (*T, error) {
	return getOne[T](ctx, q, table, field, value, "", notFoundErr)
}

// LockByID читает строку по id с блокировкой FOR UPDATE до конца транзакции tx.
func LockByID[T any](ctx context.Context, tx *sqlx.Tx, table string, id interface{}, notFoundErr error) (*T, error) {
	return getOne[T](ctx, tx, table, "id", id, " FOR UPDATE", notFoundErr)
}

func getOne[T any](ctx context.Context, q Querier, table, field string, value interface{}, suffix string, notFoundErr error) (*T, error) {
	var entity T
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1%s", table, field, suffix)

	if err := q.GetContext(ctx, &entity, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("get by %s from %s: %w", field, table, err)
	}

	return &entity, nil
}

// ExpectOneRow превращает 0 затронутых строк в errIfNone.
// Используется для условных переходов статусов (UPDATE ... WHERE status = ожидаемый).
func ExpectOneRow(res sql.Result, errIfNone error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errIfNone
	}
	return nil
}

// WithTransaction выполняет fn в транзакции: коммит при nil, откат при ошибке или panic.
func WithTransaction(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
