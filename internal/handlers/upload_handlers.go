package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"fodetect/internal/middleware"
	"fodetect/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ShowIndexPage - главная страница с формой загрузки.
func (h *Handler) ShowIndexPage(c *gin.Context) {
	lastLogin, _ := sessions.Default(c).Get(middleware.SessionLastLogin).(string)
	h.render(c, http.StatusOK, "index.html", gin.H{
		"title":      "Загрузка изображения",
		"last_login": lastLogin,
		"max_mb":     h.maxUploadSize >> 20,
	})
}

// HandleUpload принимает один файл в поле "file" и проводит его через конвейер.
// Размер запроса ограничивается ДО разбора формы, поэтому слишком большой файл на диск не попадает.
func (h *Handler) HandleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	id := adminID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		switch {
		case isTooLarge(err):
			h.log.WithField("admin_id", id).Warn("Запрос на загрузку превышает допустимый размер")
			h.flashRedirect(c, middleware.FlashDanger,
				fmt.Sprintf("Файл слишком большой (максимум %d МБ).", h.maxUploadSize>>20), "/")
		case errors.Is(err, http.ErrMissingFile):
			h.flashRedirect(c, middleware.FlashDanger, "Файл не выбран.", "/")
		default:
			h.log.WithError(err).WithField("admin_id", id).Warn("Ошибка разбора multipart формы")
			h.flashRedirect(c, middleware.FlashDanger, "Ошибка обработки запроса при загрузке файла.", "/")
		}
		return
	}
	if fileHeader.Filename == "" {
		h.flashRedirect(c, middleware.FlashDanger, "Файл не выбран.", "/")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.log.WithError(err).WithField("admin_id", id).Error("Не удалось открыть загруженный файл")
		h.flashRedirect(c, middleware.FlashDanger, "Не удалось прочитать файл.", "/")
		return
	}
	defer file.Close()

	h.log.WithFields(logrus.Fields{"admin_id": id, "file": fileHeader.Filename, "size": fileHeader.Size}).
		Info("Обработка загруженного файла")

	res, err := h.uploads.Process(c.Request.Context(), services.UploadInput{
		AdminID:  id,
		FileName: fileHeader.Filename,
		Size:     fileHeader.Size,
		Content:  file,
	})
	if err != nil {
		var perr *services.PipelineError
		message := "Ошибка при обработке изображения."
		if errors.As(err, &perr) {
			message = perr.Message
		}
		h.flashRedirect(c, middleware.FlashDanger, message, "/")
		return
	}

	session := sessions.Default(c)
	if res.Degraded != nil {
		middleware.AddFlash(session, middleware.FlashWarning, res.Degraded.Message)
	} else {
		middleware.AddFlash(session, middleware.FlashSuccess,
			"Изображение обработано. Результат: "+res.Upload.DetectionResult)
	}
	if err := session.Save(); err != nil {
		h.log.WithError(err).Error("Ошибка сохранения flash-сообщения")
	}
	c.Redirect(http.StatusFound, fmt.Sprintf("/image/%d", res.Upload.ID))
}

// isTooLarge распознает превышение http.MaxBytesReader.
func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	// multipart иногда возвращает ошибку без обертки
	return strings.Contains(err.Error(), "request body too large")
}

// ShowHistory - список записей, новые сначала, по 10 на странице.
func (h *Handler) ShowHistory(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	history, err := h.records.History(c.Request.Context(), page, services.HistoryPageSize)
	if err != nil {
		h.log.WithError(err).Error("Не удалось получить историю")
		h.render(c, http.StatusInternalServerError, "error.html", gin.H{
			"title":   "Ошибка сервера",
			"message": "Не удалось загрузить историю.",
		})
		return
	}
	h.render(c, http.StatusOK, "history.html", gin.H{
		"title":   "История",
		"history": history,
	})
}

// ShowImageDetails - подробности одной записи.
func (h *Handler) ShowImageDetails(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		h.flashRedirect(c, middleware.FlashWarning, "Изображение не найдено.", "/history")
		return
	}
	upload, err := h.records.Get(c.Request.Context(), id)
	if errors.Is(err, services.ErrRecordNotFound) {
		h.flashRedirect(c, middleware.FlashWarning, "Изображение не найдено.", "/history")
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("upload_id", id).Error("Не удалось получить запись")
		h.flashRedirect(c, middleware.FlashDanger, "Ошибка сервера при загрузке записи.", "/history")
		return
	}
	h.render(c, http.StatusOK, "result.html", gin.H{
		"title":  "Результат анализа",
		"upload": upload,
	})
}

// ViewImage отдает оригинал (kind=original) или размеченное изображение (любое другое значение).
func (h *Handler) ViewImage(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.String(http.StatusNotFound, "Image not found")
		return
	}
	upload, err := h.records.Get(c.Request.Context(), id)
	if err != nil {
		if !errors.Is(err, services.ErrRecordNotFound) {
			h.log.WithError(err).WithField("upload_id", id).Error("Не удалось получить запись")
		}
		c.String(http.StatusNotFound, "Image not found")
		return
	}

	path := upload.FilePath
	if c.Param("kind") != "original" {
		path = ""
		if upload.HasProcessed() {
			path = upload.ProcessedFilePath.String
		}
	}
	if path == "" {
		c.String(http.StatusNotFound, "Image not found")
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		h.log.WithField("path", path).Warn("Файл изображения отсутствует на диске")
		c.String(http.StatusNotFound, "Image not found")
		return
	}

	c.Header("Content-Type", services.GetImageContentType(path))
	c.Header("Cache-Control", "no-store")
	c.File(path)
}

// SaveRemarks заменяет примечания к записи.
func (h *Handler) SaveRemarks(c *gin.Context) {
	id, ok := parseID(c.PostForm("image_id"))
	if !ok {
		h.flashRedirect(c, middleware.FlashWarning, "Изображение не найдено.", "/history")
		return
	}
	remarks := strings.TrimSpace(c.PostForm("remarks"))

	err := h.records.UpdateRemarks(c.Request.Context(), adminID(c), id, remarks)
	switch {
	case errors.Is(err, services.ErrRecordNotFound):
		h.flashRedirect(c, middleware.FlashWarning, "Изображение не найдено.", "/history")
	case err != nil:
		h.log.WithError(err).WithField("upload_id", id).Error("Не удалось сохранить примечания")
		h.flashRedirect(c, middleware.FlashDanger, "Не удалось сохранить примечания.", fmt.Sprintf("/image/%d", id))
	default:
		h.flashRedirect(c, middleware.FlashSuccess, "Примечания сохранены.", fmt.Sprintf("/image/%d", id))
	}
}

// DeleteImage удаляет запись вместе с файлами.
func (h *Handler) DeleteImage(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		h.flashRedirect(c, middleware.FlashWarning, "Изображение не найдено.", "/history")
		return
	}

	err := h.records.Delete(c.Request.Context(), adminID(c), id)
	switch {
	case errors.Is(err, services.ErrRecordNotFound):
		h.flashRedirect(c, middleware.FlashWarning, "Изображение не найдено.", "/history")
	case err != nil:
		h.log.WithError(err).WithField("upload_id", id).Error("Не удалось удалить запись")
		h.flashRedirect(c, middleware.FlashDanger, "Не удалось удалить изображение.", "/history")
	default:
		h.flashRedirect(c, middleware.FlashSuccess, "Изображение удалено.", "/history")
	}
}
