package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"strings"
	"time"

	"fodetect/internal/models"

	"github.com/disintegration/imaging"
	"github.com/go-pdf/fpdf"
	"github.com/sirupsen/logrus"
)

// ErrNothingToReport - в базе нет записей для отчета.
var ErrNothingToReport = errors.New("no records to report")

const (
	reportTimeLayout = "2006-01-02 15:04:05"
	reportFileLayout = "20060102_150405"

	imageWidthMM  = 90.0
	imageHeightMM = 65.0
	leftColumnX   = 10.0
	rightColumnX  = 105.0
	// Если ряд изображений начинается ниже - новая страница.
	imageRowLimitY = 180.0
	// Если после разделителя курсор ниже - следующая запись с новой страницы.
	recordLimitY = 240.0
)

// RenderReport собирает PDF-отчет по записям в памяти.
func RenderReport(uploads []models.Upload, generatedAt time.Time) ([]byte, error) {
	return renderReport(uploads, generatedAt, true)
}

// renderReport - то же, compress=false оставляет потоки страниц читаемыми.
func renderReport(uploads []models.Upload, generatedAt time.Time, compress bool) ([]byte, error) {
	if len(uploads) == 0 {
		return nil, ErrNothingToReport
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(compress)
	// Базовые шрифты PDF знают только cp1252, остальное транслитерировать не пытаемся
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Arial", "B", 18)
		pdf.CellFormat(0, 10, "Detection Report", "", 1, "C", false, 0, "")
		pdf.SetFont("Arial", "I", 12)
		pdf.CellFormat(0, 10, "Generated: "+generatedAt.Format(reportTimeLayout), "", 1, "C", false, 0, "")
		pdf.Ln(5)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	// {nb} в подвале заменяется общим числом страниц при выводе
	pdf.AliasNbPages("")
	pdf.AddPage()

	// Автоматический перенос страниц fpdf работает для текста, для рядов картинок
	// и разделителей переносы делаются вручную
	for i := range uploads {
		writeRecord(pdf, tr, &uploads[i], fmt.Sprintf("rec%d", i))

		if i < len(uploads)-1 {
			y := pdf.GetY()
			pdf.Line(10, y, 200, y)
			pdf.Ln(5)
			if pdf.GetY() > recordLimitY {
				pdf.AddPage()
			}
		}
	}

	// Output возвращает и первую накопленную ошибку документа
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("не удалось сформировать PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRecord(pdf *fpdf.Fpdf, tr func(string) string, u *models.Upload, key string) {
	pdf.SetFillColor(230, 230, 230)
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, tr("Image Analysis: "+u.FileName), "1", 1, "L", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	field := func(name, value string) {
		pdf.CellFormat(35, 7, name, "", 0, "", false, 0, "")
		pdf.CellFormat(0, 7, tr(value), "", 1, "", false, 0, "")
	}
	field("Upload Time:", u.UploadTime.Format(reportTimeLayout))

	if strings.Contains(strings.ToLower(u.DetectionResult), DefaultLabel) {
		pdf.SetTextColor(255, 0, 0)
	} else {
		pdf.SetTextColor(0, 128, 0)
	}
	field("Detection Result:", u.DetectionResult)
	pdf.SetTextColor(0, 0, 0)

	field("Confidence Score:", formatConfidence(u))
	remarks := u.RemarksText()
	if remarks == "" {
		remarks = "None"
	}
	field("Remarks:", remarks)
	pdf.Ln(5)

	// Ряд картинок высотой 65 мм не должен разрываться между страницами
	startY := pdf.GetY()
	if startY > imageRowLimitY {
		pdf.AddPage()
		startY = pdf.GetY()
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.SetXY(leftColumnX, startY)
	pdf.CellFormat(imageWidthMM, 7, "Original Image:", "", 1, "", false, 0, "")
	placeImage(pdf, key+"_orig", u.FilePath, leftColumnX, pdf.GetY())

	pdf.SetXY(rightColumnX, startY)
	pdf.CellFormat(imageWidthMM, 7, "Processed Image:", "", 1, "", false, 0, "")
	processed := ""
	if u.HasProcessed() {
		processed = u.ProcessedFilePath.String
	}
	placeImage(pdf, key+"_proc", processed, rightColumnX, pdf.GetY())

	// Подпись 7 мм + картинка + отступ
	pdf.SetY(startY + 7 + imageHeightMM + 3)
	pdf.Ln(10)
}

func formatConfidence(u *models.Upload) string {
	if !u.ConfidenceScore.Valid || u.ConfidenceScore.Float64 == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", u.ConfidenceScore.Float64)
}

// placeImage вписывает изображение в ячейку 90x65 мм или рисует рамку-заглушку,
// если файла нет или он не декодируется.
func placeImage(pdf *fpdf.Fpdf, name, path string, x, y float64) {
	data, ok := thumbnailJPEG(path)
	if ok {
		pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "JPG"}, bytes.NewReader(data))
		if pdf.Ok() {
			pdf.ImageOptions(name, x, y, imageWidthMM, imageHeightMM, false, fpdf.ImageOptions{ImageType: "JPG"}, 0, "")
			return
		}
		// Ошибка регистрации не должна ломать весь отчет.
		pdf.ClearError()
	}
	pdf.SetXY(x, y)
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(imageWidthMM, imageHeightMM, "Image not available", "1", 0, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 10)
}

// thumbnailJPEG декодирует файл и перекодирует его в JPEG ограниченного размера.
func thumbnailJPEG(path string) ([]byte, bool) {
	if path == "" {
		return nil, false
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, false
	}
	img = imaging.Fit(img, 900, 650, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// ReportFileName - имя вложения для полного отчета.
func ReportFileName(at time.Time) string {
	return fmt.Sprintf("detection_report_%s.pdf", at.Format(reportFileLayout))
}

// SingleReportFileName - имя вложения для отчета по одной записи.
func SingleReportFileName(u *models.Upload, at time.Time) string {
	return fmt.Sprintf("detection_report_%s_%s.pdf", SecureFilename(u.FileName), at.Format(reportFileLayout))
}

// ReportStore - источник записей для отчетов.
type ReportStore interface {
	Get(ctx context.Context, id int64) (*models.Upload, error)
	All(ctx context.Context) ([]models.Upload, error)
}

// Report - готовый отчет для отдачи клиенту.
type Report struct {
	FileName string
	Data     []byte
}

// ReportService строит отчеты и пишет их в журнал аудита.
// Ошибка сборки PDF возвращается как *PipelineError с Kind = RenderFailure.
type ReportService struct {
	store  ReportStore
	audit  AuditLogger
	log    logrus.FieldLogger
	now    func() time.Time
	render func([]models.Upload, time.Time) ([]byte, error)
}

func NewReportService(store ReportStore, audit AuditLogger, log logrus.FieldLogger) *ReportService {
	return &ReportService{store: store, audit: audit, log: log, now: time.Now, render: RenderReport}
}

// build собирает PDF. ErrNothingToReport отдается как есть, остальное - RenderFailure.
func (s *ReportService) build(uploads []models.Upload, at time.Time) ([]byte, error) {
	data, err := s.render(uploads, at)
	if err == nil || errors.Is(err, ErrNothingToReport) {
		return data, err
	}
	s.log.WithError(err).WithField("records", len(uploads)).Error("Ошибка сборки PDF-отчета")
	return nil, &PipelineError{
		Kind:    RenderFailure,
		Stage:   StageRendered,
		Message: "Не удалось сформировать PDF-отчет",
		Err:     err,
	}
}

// Full - отчет по всем записям, новые сначала.
func (s *ReportService) Full(ctx context.Context, adminID int64) (*Report, error) {
	uploads, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить записи для отчета: %w", err)
	}
	at := s.now()
	data, err := s.build(uploads, at)
	if err != nil {
		return nil, err
	}
	s.record(ctx, adminID, models.ActionGenerateReport, fmt.Sprintf("Generated report with %d images", len(uploads)))
	return &Report{FileName: ReportFileName(at), Data: data}, nil
}

// Single - отчет по одной записи. Нет записи - ErrRecordNotFound.
func (s *ReportService) Single(ctx context.Context, adminID, id int64) (*Report, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить запись %d: %w", id, err)
	}
	if u == nil {
		return nil, ErrRecordNotFound
	}
	at := s.now()
	data, err := s.build([]models.Upload{*u}, at)
	if err != nil {
		return nil, err
	}
	s.record(ctx, adminID, models.ActionGenerateSingleReport, fmt.Sprintf("Generated report for image ID: %d", id))
	return &Report{FileName: SingleReportFileName(u, at), Data: data}, nil
}

func (s *ReportService) record(ctx context.Context, adminID int64, action, details string) {
	if err := s.audit.Record(ctx, adminID, action, details); err != nil {
		s.log.WithError(err).WithField("action", action).Error("Не удалось записать действие в журнал аудита")
	}
}
