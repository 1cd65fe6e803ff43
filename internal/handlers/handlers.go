package handlers

import (
	// Стандартные библиотеки
	"net/http"
	"strconv"

	// Внутренние пакеты
	"fodetect/internal/database"
	"fodetect/internal/middleware"
	"fodetect/internal/services"

	// Сторонние библиотеки
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler - HTTP-обработчики приложения. Все зависимости передаются явно из main.
type Handler struct {
	admins  *database.AdminRepository
	audit   services.AuditLogger
	uploads *services.UploadService
	records *services.RecordService
	reports *services.ReportService

	maxUploadSize int64
	log           logrus.FieldLogger
}

// New создает обработчики поверх открытого хранилища и сервисов.
func New(store *database.Store, uploads *services.UploadService, records *services.RecordService,
	reports *services.ReportService, maxUploadSize int64, log logrus.FieldLogger) *Handler {
	return &Handler{
		admins:        store.Admins,
		audit:         store.Logs,
		uploads:       uploads,
		records:       records,
		reports:       reports,
		maxUploadSize: maxUploadSize,
		log:           log,
	}
}

// Register подключает все маршруты. Шаблоны и сессии настраиваются заранее в main.
func (h *Handler) Register(router *gin.Engine) {
	// Публичные маршруты
	public := router.Group("/")
	{
		public.GET("/login", h.ShowLoginPage)
		public.POST("/login", h.HandleLogin)
		public.GET("/logout", h.HandleLogout)
	}

	// Маршруты только для вошедшего администратора
	protected := router.Group("/")
	protected.Use(middleware.AuthRequired(h.log))
	{
		protected.GET("/", h.ShowIndexPage)
		protected.POST("/upload", h.HandleUpload)
		protected.GET("/history", h.ShowHistory)
		protected.GET("/image/:id", h.ShowImageDetails)
		protected.GET("/view_image/:id/:kind", h.ViewImage)
		protected.POST("/save_remarks", h.SaveRemarks)
		protected.POST("/delete/:id", h.DeleteImage)
		protected.GET("/generate_report", h.GenerateReport)
		protected.GET("/single_report/:id", h.SingleReport)
		protected.GET("/change_password", h.ShowChangePassword)
		protected.POST("/change_password", h.HandleChangePassword)
	}

	router.NoRoute(h.NotFound)
}

// render отдает шаблон, добавляя flash-сообщения и имя администратора из сессии.
func (h *Handler) render(c *gin.Context, status int, name string, data gin.H) {
	session := sessions.Default(c)
	if data == nil {
		data = gin.H{}
	}
	data["flashes"] = middleware.PopFlashes(session)
	if username, ok := session.Get(middleware.SessionUsername).(string); ok {
		data["username"] = username
	}
	if err := session.Save(); err != nil {
		h.log.WithError(err).Error("Ошибка сохранения сессии при выводе страницы")
	}
	c.HTML(status, name, data)
}

// flashRedirect сохраняет flash-сообщение и делает редирект 302.
func (h *Handler) flashRedirect(c *gin.Context, category, message, location string) {
	session := sessions.Default(c)
	middleware.AddFlash(session, category, message)
	if err := session.Save(); err != nil {
		h.log.WithError(err).Error("Ошибка сохранения flash-сообщения")
	}
	c.Redirect(http.StatusFound, location)
}

// adminID - ID администратора, положенный в контекст middleware.AuthRequired.
func adminID(c *gin.Context) int64 {
	return c.GetInt64(middleware.ContextAdminID)
}

// parseID разбирает положительный целый идентификатор.
func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// NotFound - страница 404.
func (h *Handler) NotFound(c *gin.Context) {
	h.render(c, http.StatusNotFound, "404.html", gin.H{"title": "Страница не найдена"})
}
