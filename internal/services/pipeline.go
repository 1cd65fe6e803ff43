package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"fodetect/internal/models"

	"github.com/sirupsen/logrus"
)

// AcceptanceThreshold - объект попадает в итог загрузки, только если его
// уверенность строго больше этого значения.
const AcceptanceThreshold = 0.25

// ErrorKind - категория отказа конвейера.
type ErrorKind string

const (
	InputRejected      ErrorKind = "input_rejected"
	ModelUnavailable   ErrorKind = "model_unavailable"
	InferenceFailure   ErrorKind = "inference_failure"
	PersistenceFailure ErrorKind = "persistence_failure"
	RenderFailure      ErrorKind = "render_failure"
)

// Stage - состояние конвейера загрузки.
type Stage string

const (
	StageReceived          Stage = "received"
	StageValidated         Stage = "validated"
	StageStored            Stage = "stored"
	StageInferred          Stage = "inferred"
	StageAnnotated         Stage = "annotated"
	StageAnnotationSkipped Stage = "annotation_skipped"
	StagePersisted         Stage = "persisted"
	StageLogged            Stage = "logged"
	StageDone              Stage = "done"
	StageRejected          Stage = "rejected"
	// StageRendered - сборка PDF-отчета, вне конвейера загрузки.
	StageRendered Stage = "rendered"
)

// PipelineError - отказ на одном из шагов. Message можно показывать пользователю.
type PipelineError struct {
	Kind    ErrorKind
	Stage   Stage
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s на шаге %s: %s: %v", e.Kind, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s на шаге %s: %s", e.Kind, e.Stage, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// UploadStore - то, что конвейеру нужно от хранилища записей.
type UploadStore interface {
	Create(ctx context.Context, u *models.Upload) (int64, error)
}

// AuditLogger - журнал аудита.
type AuditLogger interface {
	Record(ctx context.Context, adminID int64, action, details string) error
}

// UploadInput - одна загрузка от администратора.
type UploadInput struct {
	AdminID  int64
	FileName string
	Size     int64
	Content  io.ReadSeeker
}

// UploadResult - итог успешной обработки.
type UploadResult struct {
	Upload     *models.Upload
	Detections []models.Detection
	// Trace - пройденные шаги по порядку.
	Trace []Stage
	// Degraded заполняется, если запись сохранена без анализа (Kind = ModelUnavailable).
	// Message можно показать пользователю как предупреждение.
	Degraded *PipelineError
}

// UploadService проводит загрузку через все шаги:
// received -> validated -> stored -> inferred -> annotated|annotation_skipped -> persisted -> logged -> done.
type UploadService struct {
	store     UploadStore
	audit     AuditLogger
	detector  Detector
	annotator Annotator
	uploadDir string
	maxSize   int64
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewUploadService(store UploadStore, audit AuditLogger, detector Detector, annotator Annotator,
	uploadDir string, maxSize int64, log logrus.FieldLogger) *UploadService {
	return &UploadService{
		store:     store,
		audit:     audit,
		detector:  detector,
		annotator: annotator,
		uploadDir: uploadDir,
		maxSize:   maxSize,
		log:       log,
		now:       time.Now,
	}
}

// Summarize выбирает самый уверенный объект с уверенностью строго больше threshold.
// Если таких нет - ResultNoObject и 0.
func Summarize(detections []models.Detection, threshold float64) (string, float64) {
	label, best := models.ResultNoObject, 0.0
	found := false
	for _, d := range detections {
		if d.Confidence > threshold && (!found || d.Confidence > best) {
			label, best, found = d.Label, d.Confidence, true
		}
	}
	return label, best
}

// Process выполняет конвейер. Ошибка всегда *PipelineError.
// После шага stored любой отказ удаляет уже записанные файлы.
func (s *UploadService) Process(ctx context.Context, in UploadInput) (*UploadResult, error) {
	res := &UploadResult{Trace: []Stage{StageReceived}}
	entry := s.log.WithFields(logrus.Fields{"admin_id": in.AdminID, "file": in.FileName})

	reject := func(kind ErrorKind, stage Stage, msg string, err error) (*UploadResult, error) {
		entry.WithFields(logrus.Fields{"kind": kind, "stage": stage}).WithError(err).Warn("Загрузка отклонена: " + msg)
		return nil, &PipelineError{Kind: kind, Stage: stage, Message: msg, Err: err}
	}

	// received: только то, что известно до чтения содержимого
	if in.FileName == "" || in.Content == nil {
		return reject(InputRejected, StageReceived, "Файл не выбран", nil)
	}
	if s.maxSize > 0 && in.Size > s.maxSize {
		return reject(InputRejected, StageReceived,
			fmt.Sprintf("Файл слишком большой (максимум %d МБ)", s.maxSize>>20), nil)
	}

	// validated: расширение и реальный тип по сигнатуре
	ext, err := ValidateImage(in.Content, in.FileName)
	if err != nil {
		if errors.Is(err, ErrDisallowedExtension) {
			return reject(InputRejected, StageValidated, "Разрешены только файлы JPG, JPEG и PNG", err)
		}
		return reject(InputRejected, StageValidated, "Файл не является корректным изображением", err)
	}
	res.Trace = append(res.Trace, StageValidated)

	// stored: с этого места любой отказ обязан вызвать cleanup
	originalPath, err := SaveOriginal(in.Content, s.uploadDir, ext)
	if err != nil {
		return reject(PersistenceFailure, StageStored, "Не удалось сохранить файл", err)
	}
	res.Trace = append(res.Trace, StageStored)
	processedPath := ""
	cleanup := func() {
		for _, p := range []string{originalPath, processedPath} {
			if err := removeIfExists(p); err != nil {
				entry.WithError(err).WithField("path", p).Error("Не удалось удалить файл после отказа")
			}
		}
	}

	upload := &models.Upload{
		FileName:   SecureFilename(in.FileName),
		FilePath:   originalPath,
		UploadTime: s.now(),
	}

	// inferred
	detections, err := s.detector.Predict(ctx, originalPath)
	switch {
	case err == nil:
		// В итог попадает только объект выше порога приемки
		label, conf := Summarize(detections, AcceptanceThreshold)
		upload.DetectionResult = label
		upload.ConfidenceScore = sql.NullFloat64{Float64: conf, Valid: true}
	case errors.Is(err, ErrModelUnavailable):
		// Не отказ: запись сохраняется, уверенность остается NULL
		entry.WithError(err).Warn("Модель недоступна, запись сохраняется без результата детекции")
		upload.DetectionResult = models.ResultModelUnavailable
		res.Degraded = &PipelineError{
			Kind:    ModelUnavailable,
			Stage:   StageInferred,
			Message: "Модель детекции недоступна, изображение сохранено без анализа",
			Err:     err,
		}
		detections = nil
	case errors.Is(err, ErrImageUnreadable):
		// Сигнатура прошла проверку, но декодер не справился (например, обрезанный JPEG)
		cleanup()
		return reject(InferenceFailure, StageInferred, "Не удалось прочитать изображение", err)
	default:
		cleanup()
		return reject(InferenceFailure, StageInferred, "Ошибка при анализе изображения", err)
	}
	res.Trace = append(res.Trace, StageInferred)
	res.Detections = detections

	// annotated | annotation_skipped: ошибка разметки не отменяет загрузку
	if len(detections) > 0 && s.annotator != nil {
		path, err := s.annotator.Annotate(originalPath, detections)
		if err != nil {
			entry.WithError(err).Warn("Разметка изображения пропущена")
		}
		processedPath = path
	}
	if processedPath != "" {
		upload.ProcessedFilePath = sql.NullString{String: processedPath, Valid: true}
		res.Trace = append(res.Trace, StageAnnotated)
	} else {
		res.Trace = append(res.Trace, StageAnnotationSkipped)
	}

	// persisted: Create заполняет upload.ID
	if _, err := s.store.Create(ctx, upload); err != nil {
		cleanup()
		return reject(PersistenceFailure, StagePersisted, "Не удалось сохранить результат", err)
	}
	res.Trace = append(res.Trace, StagePersisted)
	res.Upload = upload

	// logged: отказ журнала не отменяет загрузку
	details := fmt.Sprintf("Uploaded image %s (id %d), result: %s", upload.FileName, upload.ID, upload.DetectionResult)
	if err := s.audit.Record(ctx, in.AdminID, models.ActionUploadDetection, details); err != nil {
		entry.WithError(err).Error("Не удалось записать загрузку в журнал аудита")
	} else {
		res.Trace = append(res.Trace, StageLogged)
	}
	res.Trace = append(res.Trace, StageDone)

	entry.WithFields(logrus.Fields{
		"upload_id":  upload.ID,
		"result":     upload.DetectionResult,
		"detections": len(detections),
	}).Info("Изображение обработано")
	return res, nil
}
