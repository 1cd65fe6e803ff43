package auth

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength - минимальная длина пароля администратора.
const MinPasswordLength = 8

// ErrPasswordTooShort возвращается ValidatePassword для коротких паролей.
var ErrPasswordTooShort = errors.New("пароль должен быть не менее 8 символов")

// HashPassword принимает пароль и возвращает его bcrypt-хеш.
// Используем bcrypt.DefaultCost - рекомендуемое значение по умолчанию.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("ошибка хэширования пароля: %w", err)
	}
	return string(bytes), nil
}

// CheckPasswordHash сравнивает пароль с bcrypt-хешем из БД.
// Соль встроена в сам хеш, отдельно ее хранить не нужно.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// ValidatePassword проверяет требования к новому паролю.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}
