package services

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"strings"

	"fodetect/internal/models"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	// ProcessedPrefix - префикс имени размеченного изображения.
	ProcessedPrefix = "processed_"
	boxThickness    = 2
)

var (
	boxColor   = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Annotator рисует найденные объекты поверх исходного изображения.
type Annotator interface {
	Annotate(imagePath string, detections []models.Detection) (string, error)
}

// ImageAnnotator сохраняет размеченные изображения в OutputDir как processed_<uuid>.jpg.
type ImageAnnotator struct {
	OutputDir string
}

// Annotate возвращает путь к новому файлу. При любой ошибке файл не создается
// и возвращается пустой путь. Пустой набор объектов - пустой путь без ошибки.
func (a ImageAnnotator) Annotate(imagePath string, detections []models.Detection) (outPath string, err error) {
	if len(detections) == 0 {
		return "", nil
	}
	defer func() {
		if r := recover(); r != nil {
			outPath, err = "", fmt.Errorf("паника при разметке изображения: %v", r)
		}
	}()

	src, err := imaging.Open(imagePath, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("не удалось открыть изображение для разметки: %w", err)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	for _, det := range detections {
		drawDetection(canvas, det)
	}

	name := ProcessedPrefix + strings.ReplaceAll(uuid.NewString(), "-", "") + ".jpg"
	outPath = filepath.Join(a.OutputDir, name)
	if err := imaging.Save(canvas, outPath, imaging.JPEGQuality(95)); err != nil {
		return "", errors.Join(fmt.Errorf("не удалось сохранить размеченное изображение: %w", err), removeIfExists(outPath))
	}
	return outPath, nil
}

func drawDetection(img *image.RGBA, det models.Detection) {
	rect := image.Rect(int(det.XMin), int(det.YMin), int(det.XMax), int(det.YMax)).Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	drawRect(img, rect, boxColor, boxThickness)

	label := fmt.Sprintf("%s %.2f", det.Label, det.Confidence)
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Ceil()
	textHeight := face.Metrics().Height.Ceil()

	// Подпись над рамкой; если места нет - внутри рамки у верхнего края.
	top := rect.Min.Y - textHeight - 2
	if top < img.Bounds().Min.Y {
		top = rect.Min.Y
	}
	background := image.Rect(rect.Min.X, top, rect.Min.X+textWidth+4, top+textHeight+2).Intersect(img.Bounds())
	draw.Draw(img, background, image.NewUniform(boxColor), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(rect.Min.X + 2),
			Y: fixed.I(top + face.Metrics().Ascent.Ceil() + 1),
		},
	}
	d.DrawString(label)
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	u := image.NewUniform(c)
	for t := 0; t < thickness; t++ {
		draw.Draw(img, image.Rect(r.Min.X, r.Min.Y+t, r.Max.X, r.Min.Y+t+1), u, image.Point{}, draw.Src)
		draw.Draw(img, image.Rect(r.Min.X, r.Max.Y-t-1, r.Max.X, r.Max.Y-t), u, image.Point{}, draw.Src)
		draw.Draw(img, image.Rect(r.Min.X+t, r.Min.Y, r.Min.X+t+1, r.Max.Y), u, image.Point{}, draw.Src)
		draw.Draw(img, image.Rect(r.Max.X-t-1, r.Min.Y, r.Max.X-t, r.Max.Y), u, image.Point{}, draw.Src)
	}
}
