package common

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/revmark-backend/internal/dto"
	"github.com/ignatzorin/revmark-backend/internal/http/middleware"
	"github.com/ignatzorin/revmark-backend/internal/logger"
	"github.com/ignatzorin/revmark-backend/internal/pkg/apperror"
)

var (
	// ErrUserNotFound is returned when user is not found in context
	ErrUserNotFound = errors.New("пользователь не найден в контексте")

	// ErrInvalidUUID is returned when UUID parsing fails
	ErrInvalidUUID = errors.New("неверный формат UUID")
)

// CurrentUserID extracts user ID from Gin context
func CurrentUserID(c *gin.Context) (uuid.UUID, error) {
	raw, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return uuid.Nil, ErrUserNotFound
	}

	userID, ok := raw.(uuid.UUID)
	if !ok {
		return uuid.Nil, ErrUserNotFound
	}

	return userID, nil
}

// ParseUUIDParam parses UUID from URL parameter
func ParseUUIDParam(c *gin.Context, paramName string) (uuid.UUID, error) {
	param := c.Param(paramName)
	if param == "" {
		return uuid.Nil, fmt.Errorf("параметр %s отсутствует", paramName)
	}

	parsed, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, ErrInvalidUUID
	}

	return parsed, nil
}

// BindAndValidate binds JSON request and returns properly formatted error
func BindAndValidate(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return fmt.Errorf("ошибка валидации запроса: %w", err)
	}
	return nil
}

// statusCodes gives plain HTTP errors the same codes AppError uses
var statusCodes = map[int]apperror.ErrorCode{
	http.StatusBadRequest:          apperror.ErrCodeBadRequest,
	http.StatusUnauthorized:        apperror.ErrCodeUnauthorized,
	http.StatusForbidden:           apperror.ErrCodeForbidden,
	http.StatusNotFound:            apperror.ErrCodeNotFound,
	http.StatusConflict:            apperror.ErrCodeConflict,
	http.StatusInternalServerError: apperror.ErrCodeInternal,
}

// RespondError sends {"error","code"}; code is derived from the status
func RespondError(c *gin.Context, statusCode int, message string) {
	resp := dto.ErrorResponse{Error: message}
	if code, ok := statusCodes[statusCode]; ok {
		resp.Code = string(code)
	}
	c.JSON(statusCode, resp)
}

// RespondAppError maps service errors to HTTP. Unknown errors are logged and masked.
func RespondAppError(c *gin.Context, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		logger.L().WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}).WithError(err).Error("необработанная ошибка")
		RespondInternalError(c, "")
		return
	}

	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.L().WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
			"code":   appErr.Code,
		}).WithError(appErr.Cause).Error(appErr.Message)
	}

	c.JSON(appErr.HTTPStatus, dto.ErrorResponse{
		Error: appErr.Message,
		Code:  string(appErr.Code),
	})
}

// RespondSuccess sends a standardized success response
func RespondSuccess(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, dto.SuccessResponse{
		Message: message,
		Data:    data,
	})
}

// RespondUnauthorized sends a 401 Unauthorized response
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "требуется авторизация"
	}
	RespondError(c, http.StatusUnauthorized, message)
}

// RespondBadRequest sends a 400 Bad Request response
func RespondBadRequest(c *gin.Context, message string) {
	if message == "" {
		message = "некорректный запрос"
	}
	RespondError(c, http.StatusBadRequest, message)
}

// RespondInternalError sends a 500 Internal Server Error response
func RespondInternalError(c *gin.Context, message string) {
	if message == "" {
		message = "внутренняя ошибка сервера"
	}
	RespondError(c, http.StatusInternalServerError, message)
}

// ParseIntQuery safely reads an integer query parameter with a fallback value
func ParseIntQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetPagination extracts limit and offset from query parameters with defaults
func GetPagination(c *gin.Context) (limit, offset int) {
	limit = ParseIntQuery(c, "limit", 20)
	offset = ParseIntQuery(c, "offset", 0)
	if limit > 100 {
		limit = 100
	}
	if limit < 1 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// RequestMeta collects client info stored with a session
func RequestMeta(c *gin.Context) map[string]string {
	return map[string]string{
		"user_agent": c.GetHeader("User-Agent"),
		"ip":         c.ClientIP(),
	}
}
