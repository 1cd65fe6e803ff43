package services

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"fodetect/internal/models"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultInputSize = 640
	defaultIoU       = 0.7
	// DefaultLabel - метка единственного класса, если файл меток не задан.
	DefaultLabel = "foreign_object"
)

// YOLOConfig - параметры ONNX-модели формата YOLOv8 (выход 1 x (4+nc) x N).
type YOLOConfig struct {
	ModelPath     string
	LabelsPath    string
	SharedLibPath string
	// Confidence - нижняя граница уверенности кандидатов внутри модели.
	Confidence float64
	IoU        float64
	InputSize  int
}

var ortInitMu sync.Mutex

// NewYOLOLoader возвращает загрузчик для Engine. Сам файл модели читается
// только при первом вызове загрузчика.
func NewYOLOLoader(cfg YOLOConfig, log logrus.FieldLogger) ModelLoader {
	if cfg.ModelPath == "" {
		return nil
	}
	return func() (Model, error) {
		return loadYOLO(cfg, log)
	}
}

type yoloModel struct {
	mu sync.Mutex

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	inputSize  int
	numClasses int
	numBoxes   int
	labels     []string
	confidence float64
	iou        float64
}

func loadYOLO(cfg YOLOConfig, log logrus.FieldLogger) (*yoloModel, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("файл модели недоступен: %w", err)
	}

	if err := initONNXRuntime(cfg.SharedLibPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать описание модели: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("неожиданное число входов/выходов модели: %d/%d", len(inputs), len(outputs))
	}

	inputSize := cfg.InputSize
	if inputSize <= 0 {
		inputSize = defaultInputSize
	}
	if dims := inputs[0].Dimensions; len(dims) == 4 && dims[2] > 0 {
		inputSize = int(dims[2])
	}

	outDims := outputs[0].Dimensions
	if len(outDims) != 3 || outDims[1] <= 4 || outDims[2] <= 0 {
		return nil, fmt.Errorf("неподдерживаемая форма выхода модели: %v", outDims)
	}
	numClasses := int(outDims[1]) - 4
	numBoxes := int(outDims[2])

	labels, err := loadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}
	if len(labels) != numClasses {
		log.WithFields(logrus.Fields{
			"labels":  len(labels),
			"classes": numClasses,
		}).Warn("Число меток не совпадает с числом классов модели")
	}

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(inputSize), int64(inputSize)), make([]float32, 3*inputSize*inputSize))
	if err != nil {
		return nil, fmt.Errorf("не удалось создать входной тензор: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(numClasses+4), int64(numBoxes)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("не удалось создать выходной тензор: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("не удалось создать параметры сессии: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{input}, []ort.Value{output}, options)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("не удалось создать сессию ONNX: %w", err)
	}

	confidence := cfg.Confidence
	if confidence <= 0 {
		confidence = AcceptanceThreshold
	}
	iou := cfg.IoU
	if iou <= 0 {
		iou = defaultIoU
	}

	log.WithFields(logrus.Fields{
		"model":   cfg.ModelPath,
		"input":   inputSize,
		"classes": numClasses,
		"boxes":   numBoxes,
	}).Info("ONNX-модель загружена")

	return &yoloModel{
		session:    session,
		input:      input,
		output:     output,
		inputSize:  inputSize,
		numClasses: numClasses,
		numBoxes:   numBoxes,
		labels:     labels,
		confidence: confidence,
		iou:        iou,
	}, nil
}

func initONNXRuntime(libPath string) error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("не удалось инициализировать onnxruntime: %w", err)
	}
	return nil
}

// ShutdownONNXRuntime освобождает окружение onnxruntime, если оно было создано.
func ShutdownONNXRuntime() error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// loadLabels читает по одной метке на строку. Пустой путь - один класс DefaultLabel.
func loadLabels(path string) ([]string, error) {
	if path == "" {
		return []string{DefaultLabel}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть файл меток: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("не удалось прочитать файл меток: %w", err)
	}
	if len(labels) == 0 {
		return nil, errors.New("файл меток пуст")
	}
	return labels, nil
}

// Detect: letterbox не используется, изображение растягивается до квадрата,
// координаты пересчитываются обратно по каждой оси отдельно.
func (m *yoloModel) Detect(img image.Image) ([]models.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, errors.New("пустое изображение")
	}
	fillInput(m.input.GetData(), img, m.inputSize)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("ошибка выполнения сессии: %w", err)
	}

	scaleX := float64(bounds.Dx()) / float64(m.inputSize)
	scaleY := float64(bounds.Dy()) / float64(m.inputSize)
	dets := decodeYOLO(m.output.GetData(), m.numClasses, m.numBoxes, scaleX, scaleY, m.confidence, m.labelFor)
	for i := range dets {
		dets[i].XMin += float64(bounds.Min.X)
		dets[i].XMax += float64(bounds.Min.X)
		dets[i].YMin += float64(bounds.Min.Y)
		dets[i].YMax += float64(bounds.Min.Y)
	}
	return nonMaxSuppression(dets, m.iou), nil
}

func (m *yoloModel) labelFor(class int) string {
	if class >= 0 && class < len(m.labels) {
		return m.labels[class]
	}
	return fmt.Sprintf("class_%d", class)
}

func (m *yoloModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.session != nil {
		errs = append(errs, m.session.Destroy())
	}
	if m.input != nil {
		errs = append(errs, m.input.Destroy())
	}
	if m.output != nil {
		errs = append(errs, m.output.Destroy())
	}
	return errors.Join(errs...)
}

// fillInput пишет изображение в тензор NCHW, RGB, значения в [0,1].
func fillInput(dst []float32, img image.Image, size int) {
	resized := imaging.Resize(img, size, size, imaging.Linear)
	plane := size * size
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4:]
			i := y*size + x
			dst[i] = float32(px[0]) / 255
			dst[plane+i] = float32(px[1]) / 255
			dst[2*plane+i] = float32(px[2]) / 255
		}
	}
}

// decodeYOLO разбирает выход формата [4+nc][N]: cx, cy, w, h, затем оценки классов.
// Для каждого кандидата берется лучший класс; кандидаты ниже minConf отбрасываются.
func decodeYOLO(data []float32, numClasses, numBoxes int, scaleX, scaleY, minConf float64, label func(int) string) []models.Detection {
	if len(data) < (4+numClasses)*numBoxes {
		return nil
	}
	at := func(ch, i int) float64 { return float64(data[ch*numBoxes+i]) }

	var dets []models.Detection
	for i := 0; i < numBoxes; i++ {
		bestClass, bestScore := -1, 0.0
		for c := 0; c < numClasses; c++ {
			if s := at(4+c, i); s > bestScore {
				bestClass, bestScore = c, s
			}
		}
		if bestClass < 0 || bestScore < minConf {
			continue
		}
		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		dets = append(dets, models.Detection{
			Label:      label(bestClass),
			Confidence: bestScore,
			XMin:       (cx - w/2) * scaleX,
			YMin:       (cy - h/2) * scaleY,
			XMax:       (cx + w/2) * scaleX,
			YMax:       (cy + h/2) * scaleY,
		})
	}
	return dets
}

// nonMaxSuppression - подавление по классам: из пересекающихся рамок
// одного класса (IoU > threshold) остается самая уверенная.
func nonMaxSuppression(dets []models.Detection, threshold float64) []models.Detection {
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	kept := make([]models.Detection, 0, len(dets))
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if k.Label == d.Label && iou(k, d) > threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b models.Detection) float64 {
	ix := math.Max(0, math.Min(a.XMax, b.XMax)-math.Max(a.XMin, b.XMin))
	iy := math.Max(0, math.Min(a.YMax, b.YMax)-math.Max(a.YMin, b.YMin))
	inter := ix * iy
	union := (a.XMax-a.XMin)*(a.YMax-a.YMin) + (b.XMax-b.XMin)*(b.YMax-b.YMin) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
