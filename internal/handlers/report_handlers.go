package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"fodetect/internal/middleware"
	"fodetect/internal/services"

	"github.com/gin-gonic/gin"
)

// GenerateReport отдает PDF по всем записям.
func (h *Handler) GenerateReport(c *gin.Context) {
	report, err := h.reports.Full(c.Request.Context(), adminID(c))
	if errors.Is(err, services.ErrNothingToReport) {
		h.flashRedirect(c, middleware.FlashWarning, "В базе нет изображений для отчета.", "/history")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("Ошибка формирования отчета")
		h.flashRedirect(c, middleware.FlashDanger, reportErrorMessage(err), "/history")
		return
	}
	sendPDF(c, report)
}

// SingleReport отдает PDF по одной записи.
func (h *Handler) SingleReport(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		h.flashRedirect(c, middleware.FlashWarning, "Изображение не найдено.", "/history")
		return
	}
	report, err := h.reports.Single(c.Request.Context(), adminID(c), id)
	if errors.Is(err, services.ErrRecordNotFound) {
		h.flashRedirect(c, middleware.FlashWarning, "Изображение не найдено.", "/history")
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("upload_id", id).Error("Ошибка формирования отчета по записи")
		h.flashRedirect(c, middleware.FlashDanger, reportErrorMessage(err), fmt.Sprintf("/image/%d", id))
		return
	}
	sendPDF(c, report)
}

// reportErrorMessage - текст для пользователя. Сбой сборки PDF отличаем от сбоя чтения записей.
func reportErrorMessage(err error) string {
	var perr *services.PipelineError
	if errors.As(err, &perr) && perr.Kind == services.RenderFailure {
		return perr.Message + "."
	}
	return "Ошибка формирования отчета."
}

func sendPDF(c *gin.Context, report *services.Report) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.FileName))
	c.Data(http.StatusOK, "application/pdf", report.Data)
}
