package middleware

import (
	"strings"

	"github.com/gin-contrib/sessions"
)

// Категории flash-сообщений (совпадают с классами alert в шаблонах).
const (
	FlashSuccess = "success"
	FlashInfo    = "info"
	FlashWarning = "warning"
	FlashDanger  = "danger"
)

// Flash - одно сообщение для показа на следующей странице.
type Flash struct {
	Category string
	Message  string
}

// AddFlash кладет сообщение в сессию. Сохранять сессию должен вызывающий.
// Хранится строкой "категория|текст", чтобы cookie-хранилищу не нужна была регистрация типов в gob.
func AddFlash(session sessions.Session, category, message string) {
	session.AddFlash(category + "|" + message)
}

// PopFlashes забирает все сообщения из сессии (после чтения они удаляются).
func PopFlashes(session sessions.Session) []Flash {
	raw := session.Flashes()
	if len(raw) == 0 {
		return nil
	}
	out := make([]Flash, 0, len(raw))
	for _, r := range raw {
		s, ok := r.(string)
		if !ok {
			continue
		}
		category, message, found := strings.Cut(s, "|")
		if !found {
			category, message = FlashInfo, s
		}
		out = append(out, Flash{Category: category, Message: message})
	}
	return out
}
