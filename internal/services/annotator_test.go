package services

import (
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"fodetect/internal/models"

	"github.com/disintegration/imaging"
)

func TestImageAnnotator(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src.png", pngBytes(t, 200, 120))
	a := ImageAnnotator{OutputDir: dir}

	out, err := a.Annotate(src, []models.Detection{
		{Label: "foreign_object", Confidence: 0.91, XMin: 50, YMin: 40, XMax: 150, YMax: 100},
		{Label: "foreign_object", Confidence: 0.12, XMin: 0, YMin: 0, XMax: 20, YMax: 20},
	})
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if filepath.Dir(out) != dir || !strings.HasPrefix(filepath.Base(out), ProcessedPrefix) || filepath.Ext(out) != ".jpg" {
		t.Errorf("Unexpected output path %s", out)
	}

	img, err := imaging.Open(out)
	if err != nil {
		t.Fatalf("Annotated file unreadable: %v", err)
	}
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 120 {
		t.Errorf("Annotated image size changed: %v", img.Bounds())
	}
	// Нижняя сторона рамки: зеленый пиксель (с поправкой на JPEG).
	r, g, b, _ := img.At(100, 99).RGBA()
	px := color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255}
	if px.G < 150 || px.R > 100 || px.B > 100 {
		t.Errorf("Expected green box edge, got %+v", px)
	}
}

func TestImageAnnotatorFailures(t *testing.T) {
	dir := t.TempDir()
	det := []models.Detection{{Label: "x", Confidence: 0.5, XMax: 5, YMax: 5}}

	tests := []struct {
		name string
		src  string
		out  string
		dets []models.Detection
	}{
		{"empty detections", writeFile(t, dir, "a.png", pngBytes(t, 10, 10)), dir, nil},
		{"unreadable source", writeFile(t, dir, "b.jpg", []byte("garbage")), dir, det},
		{"missing output dir", writeFile(t, dir, "c.png", pngBytes(t, 10, 10)), filepath.Join(dir, "nope"), det},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := countFiles(t, dir)
			out, _ := ImageAnnotator{OutputDir: tt.out}.Annotate(tt.src, tt.dets)
			if out != "" {
				t.Errorf("Expected empty path, got %s", out)
			}
			if after := countFiles(t, dir); after != before {
				t.Errorf("Expected no new files, had %d now %d", before, after)
			}
		})
	}
}
