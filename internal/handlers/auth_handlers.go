package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"fodetect/internal/auth"
	"fodetect/internal/middleware"
	"fodetect/internal/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const lastLoginLayout = "2006-01-02 15:04:05"

// ShowLoginPage отображает страницу входа. Уже вошедший администратор уходит на главную.
func (h *Handler) ShowLoginPage(c *gin.Context) {
	if _, ok := sessions.Default(c).Get(middleware.SessionAdminID).(int64); ok {
		c.Redirect(http.StatusFound, "/")
		return
	}
	h.render(c, http.StatusOK, "login.html", gin.H{"title": "Вход"})
}

// HandleLogin проверяет имя и пароль, обновляет last_login и открывает сессию.
func (h *Handler) HandleLogin(c *gin.Context) {
	username := strings.TrimSpace(c.PostForm("username"))
	password := c.PostForm("password")

	renderLoginWithError := func(status int, message string) {
		h.render(c, status, "login.html", gin.H{
			"title":    "Вход",
			"error":    message,
			"username": username,
		})
	}

	if username == "" || password == "" {
		renderLoginWithError(http.StatusBadRequest, "Имя пользователя и пароль не могут быть пустыми")
		return
	}

	ctx := c.Request.Context()
	admin, err := h.admins.GetByUsername(ctx, username)
	if err != nil {
		h.log.WithError(err).WithField("username", username).Error("Ошибка получения администратора из БД")
		renderLoginWithError(http.StatusInternalServerError, "Ошибка сервера при проверке данных.")
		return
	}
	if admin == nil || !auth.CheckPasswordHash(password, admin.PasswordHash) {
		h.log.WithFields(logrus.Fields{"username": username, "ip": c.ClientIP()}).Warn("Неудачная попытка входа")
		renderLoginWithError(http.StatusUnauthorized, "Неверное имя пользователя или пароль.")
		return
	}

	// Время предыдущего входа показывается на главной странице.
	previous := ""
	if admin.LastLogin.Valid {
		previous = admin.LastLogin.Time.Local().Format(lastLoginLayout)
	}
	if err := h.admins.TouchLastLogin(ctx, admin.ID, time.Now()); err != nil {
		h.log.WithError(err).WithField("admin_id", admin.ID).Error("Не удалось обновить время последнего входа")
	}

	session := sessions.Default(c)
	session.Set(middleware.SessionAdminID, admin.ID)
	session.Set(middleware.SessionUsername, admin.Username)
	session.Set(middleware.SessionLastLogin, previous)
	middleware.AddFlash(session, middleware.FlashSuccess, "Вход выполнен успешно.")
	if err := session.Save(); err != nil {
		h.log.WithError(err).WithField("admin_id", admin.ID).Error("Ошибка сохранения сессии после входа")
		renderLoginWithError(http.StatusInternalServerError, "Не удалось сохранить данные сессии.")
		return
	}

	h.recordAudit(c, admin.ID, models.ActionLogin, "Admin "+admin.Username+" logged in")
	h.log.WithFields(logrus.Fields{"admin_id": admin.ID, "username": admin.Username}).Info("Администратор вошел в систему")
	c.Redirect(http.StatusFound, "/")
}

// HandleLogout очищает сессию. Flash остается в той же cookie, поэтому MaxAge не сбрасывается.
func (h *Handler) HandleLogout(c *gin.Context) {
	session := sessions.Default(c)
	id := session.Get(middleware.SessionAdminID)

	session.Delete(middleware.SessionAdminID)
	session.Delete(middleware.SessionUsername)
	session.Delete(middleware.SessionLastLogin)
	middleware.AddFlash(session, middleware.FlashInfo, "Вы вышли из системы.")
	if err := session.Save(); err != nil {
		h.log.WithError(err).WithField("admin_id", id).Error("Ошибка сохранения сессии после выхода")
	} else if id != nil {
		h.log.WithField("admin_id", id).Info("Администратор вышел из системы")
	}
	c.Redirect(http.StatusFound, "/login")
}

// ShowChangePassword отображает форму смены пароля.
func (h *Handler) ShowChangePassword(c *gin.Context) {
	h.render(c, http.StatusOK, "change_password.html", gin.H{"title": "Смена пароля"})
}

// HandleChangePassword: текущий пароль, совпадение подтверждения, минимум 8 символов.
func (h *Handler) HandleChangePassword(c *gin.Context) {
	current := c.PostForm("current_password")
	newPassword := c.PostForm("new_password")
	confirm := c.PostForm("confirm_password")
	id := adminID(c)
	ctx := c.Request.Context()

	fail := func(message string) {
		h.flashRedirect(c, middleware.FlashDanger, message, "/change_password")
	}

	if current == "" || newPassword == "" || confirm == "" {
		fail("Все поля должны быть заполнены.")
		return
	}

	admin, err := h.admins.GetByID(ctx, id)
	if err != nil || admin == nil {
		h.log.WithError(err).WithField("admin_id", id).Error("Администратор из сессии не найден")
		fail("Ошибка сервера при смене пароля.")
		return
	}
	if !auth.CheckPasswordHash(current, admin.PasswordHash) {
		fail("Текущий пароль указан неверно.")
		return
	}
	if newPassword != confirm {
		fail("Новые пароли не совпадают.")
		return
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			fail("Пароль должен быть не менее 8 символов.")
		} else {
			fail("Недопустимый пароль.")
		}
		return
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		h.log.WithError(err).WithField("admin_id", id).Error("Ошибка хеширования пароля")
		fail("Ошибка сервера при смене пароля.")
		return
	}
	if err := h.admins.UpdatePassword(ctx, id, hash); err != nil {
		h.log.WithError(err).WithField("admin_id", id).Error("Не удалось сохранить новый пароль")
		fail("Ошибка сервера при смене пароля.")
		return
	}

	h.recordAudit(c, id, models.ActionChangePassword, "Password changed")
	h.log.WithField("admin_id", id).Info("Пароль администратора изменен")
	h.flashRedirect(c, middleware.FlashSuccess, "Пароль успешно изменен.", "/")
}

// recordAudit пишет запись в журнал; ошибка журнала только логируется.
func (h *Handler) recordAudit(c *gin.Context, id int64, action, details string) {
	if err := h.audit.Record(c.Request.Context(), id, action, details); err != nil {
		h.log.WithError(err).WithField("action", action).Error("Не удалось записать действие в журнал аудита")
	}
}
