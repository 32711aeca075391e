package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError      ErrorCode = "DATABASE_ERROR"
	ErrCodePaymentDeclined    ErrorCode = "PAYMENT_DECLINED"
	ErrCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeGatewayTimeout     ErrorCode = "GATEWAY_TIMEOUT"
	ErrCodeInvalidSignature   ErrorCode = "INVALID_SIGNATURE"
	ErrCodeInconsistentState  ErrorCode = "INCONSISTENT_STATE"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду и сообщению, чтобы errors.Is работал с готовыми значениями ниже.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code && e.Message == other.Message
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeInvalidSignature:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodePaymentDeclined:
		return http.StatusPaymentRequired
	case ErrCodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// As достаёт AppError из цепочки ошибок.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func HasCode(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return HasCode(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return HasCode(err, ErrCodeValidation)
}

func IsConflict(err error) bool {
	return HasCode(err, ErrCodeConflict)
}

// IsRetryable сообщает, что операцию можно безопасно повторить (таймаут платёжного шлюза).
func IsRetryable(err error) bool {
	return HasCode(err, ErrCodeGatewayTimeout) || HasCode(err, ErrCodeGatewayUnavailable)
}

var (
	ErrRequestNotFound  = New(ErrCodeNotFound, "заявка не найдена")
	ErrPaymentNotFound  = New(ErrCodeNotFound, "платёж не найден")
	ErrUserNotFound     = New(ErrCodeNotFound, "пользователь не найден")
	ErrMessageNotFound  = New(ErrCodeNotFound, "сообщение не найдено")
	ErrFileNotFound     = New(ErrCodeNotFound, "файл не найден")
	ErrUnauthorized     = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden        = New(ErrCodeForbidden, "недостаточно прав")
	ErrNotBuyer         = New(ErrCodeForbidden, "операция доступна только покупателю заявки")
	ErrNotParticipant   = New(ErrCodeForbidden, "вы не участник этой заявки")
	ErrInvalidAmount    = New(ErrCodeValidation, "сумма должна быть положительной")
	ErrStatusConflict   = New(ErrCodeConflict, "статус заявки не допускает эту операцию")
	ErrPaymentInFlight  = New(ErrCodeConflict, "по заявке идёт оплата, повторите попытку позже")
	ErrAlreadyPaid      = New(ErrCodeConflict, "оплата по заявке уже прошла")
	ErrNoSeller         = New(ErrCodeValidation, "у заявки не назначен продавец")
	ErrSellerUnverified = New(ErrCodeValidation, "продавец не завершил подключение выплат")
)
