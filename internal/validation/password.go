package validation

import (
	"fmt"
	"unicode"
)

// bcrypt учитывает только первые 72 байта пароля.
const maxPasswordBytes = 72

// ValidatePassword проверяет пароль: от 8 символов и не длиннее 72 байт,
// хотя бы одна заглавная, одна строчная буква и одна цифра.
func ValidatePassword(password string) error {
	if len([]rune(password)) < 8 {
		return fmt.Errorf("пароль должен быть не менее 8 символов")
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("пароль должен быть не длиннее %d байт", maxPasswordBytes)
	}

	var hasUpper, hasLower, hasNumber bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		}
	}

	switch {
	case !hasUpper:
		return fmt.Errorf("пароль должен содержать хотя бы одну заглавную букву")
	case !hasLower:
		return fmt.Errorf("пароль должен содержать хотя бы одну строчную букву")
	case !hasNumber:
		return fmt.Errorf("пароль должен содержать хотя бы одну цифру")
	}

	return nil
}
