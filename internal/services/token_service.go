package services

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateSecureToken возвращает случайную строку из length байт энтропии.
// Используется для секрета cookie, если COOKIE_SECRET не задан.
func GenerateSecureToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("некорректная длина токена: %d", length)
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("не удалось сгенерировать случайные байты: %w", err)
	}
	// RawURLEncoding: без '+', '/' и без '=' в конце.
	return base64.RawURLEncoding.EncodeToString(b), nil
}
