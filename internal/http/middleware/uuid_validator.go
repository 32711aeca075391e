package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/revmark-backend/internal/pkg/apperror"
)

// UUIDValidator проверяет, что параметры пути с указанными именами являются валидными UUID.
// Использование: router.GET("/requests/:id", UUIDValidator("id"), handler.Get)
func UUIDValidator(paramNames ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range paramNames {
			if _, err := uuid.Parse(c.Param(name)); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "параметр " + name + " должен быть валидным UUID",
					"code":  apperror.ErrCodeValidation,
				})
				return
			}
		}

		c.Next()
	}
}
