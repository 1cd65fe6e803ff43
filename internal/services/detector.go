package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	"fodetect/internal/models"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

var (
	// ErrModelUnavailable - модель не настроена, файл модели отсутствует или не загрузился.
	ErrModelUnavailable = errors.New("model not available")
	// ErrImageUnreadable - изображение не удалось прочитать/декодировать.
	ErrImageUnreadable = errors.New("failed to read image")
	// ErrInference - ошибка во время работы модели.
	ErrInference = errors.New("prediction error")
)

// Model - предобученная модель детекции, используемая как черный ящик.
// Detect получает декодированное изображение и возвращает объекты
// в пиксельных координатах этого изображения.
type Model interface {
	Detect(img image.Image) ([]models.Detection, error)
	Close() error
}

// ModelLoader загружает модель. Вызывается не более одного раза на Engine.
type ModelLoader func() (Model, error)

// Detector - контракт, который видит конвейер загрузки.
type Detector interface {
	Predict(ctx context.Context, imagePath string) ([]models.Detection, error)
}

// Engine - адаптер модели детекции. Модель загружается лениво при первом
// вызове Predict, ровно один раз (sync.Once), даже при одновременных
// первых запросах. Неудачная загрузка тоже запоминается.
type Engine struct {
	loader ModelLoader
	log    logrus.FieldLogger

	once    sync.Once
	model   Model
	loadErr error

	closeOnce sync.Once
	closeErr  error
}

// NewEngine создает адаптер. loader == nil означает, что модель не настроена.
func NewEngine(loader ModelLoader, log logrus.FieldLogger) *Engine {
	return &Engine{loader: loader, log: log}
}

func (e *Engine) load() (Model, error) {
	e.once.Do(func() {
		if e.loader == nil {
			e.loadErr = fmt.Errorf("%w: модель не настроена", ErrModelUnavailable)
			e.log.Warn("Модель детекции не настроена (MODEL_PATH пуст)")
			return
		}

		model, err := safeLoad(e.loader)
		if err != nil {
			e.loadErr = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
			e.log.WithError(err).Error("Не удалось загрузить модель детекции")
			return
		}
		e.model = model
		e.log.Info("Модель детекции успешно загружена")
	})
	return e.model, e.loadErr
}

func safeLoad(loader ModelLoader) (m Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("паника при загрузке модели: %v", r)
		}
	}()
	m, err = loader()
	if err == nil && m == nil {
		err = errors.New("загрузчик вернул пустую модель")
	}
	return m, err
}

// Ready загружает модель (если еще не загружена) и сообщает, доступна ли она.
func (e *Engine) Ready() error {
	_, err := e.load()
	return err
}

// Predict загружает изображение с диска и возвращает нормализованный список объектов.
// Порог принятия здесь НЕ применяется - это делает вызывающая сторона.
// Ошибки: ErrModelUnavailable (пустой список), ErrImageUnreadable, ErrInference.
func (e *Engine) Predict(ctx context.Context, imagePath string) ([]models.Detection, error) {
	model, err := e.load()
	if err != nil {
		return []models.Detection{}, err
	}
	if err := ctx.Err(); err != nil {
		return []models.Detection{}, fmt.Errorf("%w: %v", ErrInference, err)
	}

	img, err := imaging.Open(imagePath, imaging.AutoOrientation(true))
	if err != nil {
		return []models.Detection{}, fmt.Errorf("%w: %v", ErrImageUnreadable, err)
	}

	raw, err := safeDetect(model, img)
	if err != nil {
		return []models.Detection{}, fmt.Errorf("%w: %v", ErrInference, err)
	}
	return normalizeDetections(raw, img.Bounds()), nil
}

func safeDetect(model Model, img image.Image) (dets []models.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			dets, err = nil, fmt.Errorf("паника в модели: %v", r)
		}
	}()
	return model.Detect(img)
}

// normalizeDetections ограничивает рамки границами изображения, уверенность - [0,1],
// отбрасывает вырожденные/NaN и сортирует по убыванию уверенности.
func normalizeDetections(raw []models.Detection, bounds image.Rectangle) []models.Detection {
	out := make([]models.Detection, 0, len(raw))
	for _, d := range raw {
		if math.IsNaN(d.Confidence) || math.IsNaN(d.XMin) || math.IsNaN(d.YMin) || math.IsNaN(d.XMax) || math.IsNaN(d.YMax) {
			continue
		}
		d.Confidence = clamp(d.Confidence, 0, 1)
		if d.XMin > d.XMax {
			d.XMin, d.XMax = d.XMax, d.XMin
		}
		if d.YMin > d.YMax {
			d.YMin, d.YMax = d.YMax, d.YMin
		}
		d.XMin = clamp(d.XMin, float64(bounds.Min.X), float64(bounds.Max.X))
		d.XMax = clamp(d.XMax, float64(bounds.Min.X), float64(bounds.Max.X))
		d.YMin = clamp(d.YMin, float64(bounds.Min.Y), float64(bounds.Max.Y))
		d.YMax = clamp(d.YMax, float64(bounds.Min.Y), float64(bounds.Max.Y))
		if d.Label == "" {
			d.Label = "Object"
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Close освобождает модель, если она была загружена.
// Через once Close дожидается идущей загрузки, а если загрузки еще не было,
// закрывает ее навсегда: Predict после Close вернет ErrModelUnavailable.
func (e *Engine) Close() error {
	e.once.Do(func() {
		e.loadErr = fmt.Errorf("%w: адаптер закрыт", ErrModelUnavailable)
	})
	e.closeOnce.Do(func() {
		if e.model != nil {
			e.closeErr = e.model.Close()
		}
	})
	return e.closeErr
}
