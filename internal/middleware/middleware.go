package middleware

import (
	// Стандартные библиотеки
	"net/http" // Для кодов статуса HTTP (StatusFound)
	"time"     // Для измерения длительности запроса

	// Сторонние библиотеки
	"github.com/gin-contrib/sessions" // Для работы с сессиями
	"github.com/gin-gonic/gin"        // Основной фреймворк
	"github.com/sirupsen/logrus"      // Структурное логирование
)

// Ключи данных в сессии и в контексте Gin.
const (
	SessionAdminID   = "adminID"   // int64, ID вошедшего администратора
	SessionUsername  = "username"  // string
	SessionLastLogin = "lastLogin" // string, время предыдущего входа
	ContextAdminID   = "adminID"   // int64 в gin.Context после AuthRequired
)

// AuthRequired - Gin middleware, которое пускает дальше только вошедшего администратора.
// Иначе - flash-сообщение и редирект на /login.
func AuthRequired(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)

		// При успешном входе ID сохраняется как int64.
		adminIDRaw := session.Get(SessionAdminID)
		if adminIDRaw == nil {
			log.WithFields(logrus.Fields{"path": c.Request.URL.Path, "ip": c.ClientIP()}).
				Info("Доступ запрещен (не аутентифицирован)")
			AddFlash(session, FlashWarning, "Пожалуйста, войдите в систему.")
			if err := session.Save(); err != nil {
				log.WithError(err).Error("Ошибка сохранения сессии")
			}
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}

		adminID, ok := adminIDRaw.(int64)
		if !ok || adminID <= 0 {
			// Поврежденные данные сессии: очищаем и отправляем на логин.
			log.WithField("ip", c.ClientIP()).Errorf("Некорректный тип adminID (%T) в сессии, сессия будет очищена", adminIDRaw)
			session.Clear()
			session.Options(sessions.Options{Path: "/", MaxAge: -1})
			if err := session.Save(); err != nil {
				log.WithError(err).Error("Ошибка сохранения сессии при очистке")
			}
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}

		c.Set(ContextAdminID, adminID)
		c.Next()
	}
}

// RequestLogger пишет по одной строке на запрос через logrus (вместо gin.Logger).
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"status":   c.Writer.Status(),
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"ip":       c.ClientIP(),
			"duration": time.Since(start).String(),
		})
		if len(c.Errors) > 0 {
			entry.Error(c.Errors.String())
			return
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("Запрос завершился ошибкой")
		case status >= http.StatusBadRequest:
			entry.Warn("Запрос отклонен")
		default:
			entry.Debug("Запрос обработан")
		}
	}
}
