package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Ограничения полей пользователя, заявки и сообщения.
const (
	MinUsernameLength           = 3
	MaxUsernameLength           = 30
	MinRequestTitleLength       = 3
	MaxRequestTitleLength       = 200
	MinRequestDescriptionLength = 10
	MaxRequestDescriptionLength = 5000
	MinMessageLength            = 1
	MaxMessageLength            = 5000
	MaxFileNameLength           = 255
)

var (
	emailLocalPattern  = regexp.MustCompile(`^[a-z0-9._+-]+$`)
	emailDomainPattern = regexp.MustCompile(`^[a-z0-9.-]+\.[a-z]{2,}$`)
	usernamePattern    = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// ValidateLength проверяет длину строки в символах. Нулевая граница не проверяется.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateEmail проверяет формат email. Регистр не учитывается.
func ValidateEmail(email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("email обязателен")
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return fmt.Errorf("email должен содержать символ @")
	}
	if strings.Contains(domain, "@") {
		return fmt.Errorf("некорректный формат email")
	}

	if len(local) == 0 || len(local) > 64 {
		return fmt.Errorf("локальная часть email должна быть от 1 до 64 символов")
	}
	if len(domain) == 0 || len(domain) > 255 {
		return fmt.Errorf("доменная часть email должна быть от 1 до 255 символов")
	}
	if !emailLocalPattern.MatchString(local) {
		return fmt.Errorf("локальная часть email содержит недопустимые символы")
	}
	if !emailDomainPattern.MatchString(domain) {
		return fmt.Errorf("доменная часть email имеет некорректный формат")
	}

	return nil
}

// ValidateUsername проверяет имя пользователя: латиница, цифры и подчёркивание, не с цифры.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("имя пользователя обязательно")
	}

	if err := ValidateLength("имя пользователя", username, MinUsernameLength, MaxUsernameLength); err != nil {
		return err
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("имя пользователя может содержать только буквы, цифры и подчеркивание")
	}
	if unicode.IsDigit(rune(username[0])) {
		return fmt.Errorf("имя пользователя не может начинаться с цифры")
	}

	return nil
}

// ValidateMessageContent проверяет текст сообщения без вложений.
func ValidateMessageContent(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("сообщение не может быть пустым")
	}

	return ValidateLength("сообщение", content, MinMessageLength, MaxMessageLength)
}

// ValidateFileName проверяет имя загружаемого файла.
func ValidateFileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("имя файла обязательно")
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("имя файла содержит недопустимые символы")
	}
	return ValidateLength("имя файла", name, 1, MaxFileNameLength)
}
