package handlers

import (
	"fmt"

	"fodetect/internal/middleware"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SessionCookieName - имя cookie сессии администратора.
const SessionCookieName = "fodsession"

// RouterOptions - то, что нужно для сборки gin.Engine.
type RouterOptions struct {
	SessionStore  sessions.Store
	TemplatesGlob string
	StaticDir     string // пустая строка - статику не раздаем
}

// NewRouter собирает gin.Engine: восстановление после паник, журнал запросов,
// сессии, шаблоны и маршруты.
func NewRouter(h *Handler, opts RouterOptions, log logrus.FieldLogger) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))

	// За обратным прокси IP клиента берется из заголовков только доверенных прокси.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("ошибка установки доверенных прокси: %w", err)
	}

	// Часть multipart-формы сверх этого объема уходит во временные файлы.
	router.MaxMultipartMemory = 8 << 20

	router.Use(sessions.Sessions(SessionCookieName, opts.SessionStore))

	router.LoadHTMLGlob(opts.TemplatesGlob)
	if opts.StaticDir != "" {
		router.Static("/static", opts.StaticDir)
	}

	h.Register(router)
	return router, nil
}
