package services

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"fodetect/internal/models"
)

// yoloOutput собирает выход [4+nc][N] из списка кандидатов.
func yoloOutput(numClasses int, boxes [][]float32) []float32 {
	n := len(boxes)
	data := make([]float32, (4+numClasses)*n)
	for i, b := range boxes {
		for ch, v := range b {
			data[ch*n+i] = v
		}
	}
	return data
}

func TestDecodeYOLO(t *testing.T) {
	labels := []string{"foreign_object", "tool"}
	label := func(c int) string { return labels[c] }

	data := yoloOutput(2, [][]float32{
		{320, 320, 100, 50, 0.9, 0.1},
		{100, 100, 20, 20, 0.05, 0.6},
		{50, 50, 10, 10, 0.1, 0.2},
	})

	dets := decodeYOLO(data, 2, 3, 2.0, 0.5, 0.25, label)
	if len(dets) != 2 {
		t.Fatalf("Expected 2 candidates above floor, got %d: %+v", len(dets), dets)
	}

	first := dets[0]
	if first.Label != "foreign_object" || math.Abs(first.Confidence-0.9) > 1e-6 {
		t.Errorf("Unexpected first detection %+v", first)
	}
	want := models.Detection{XMin: 540, YMin: 147.5, XMax: 740, YMax: 172.5}
	if first.XMin != want.XMin || first.YMin != want.YMin || first.XMax != want.XMax || first.YMax != want.YMax {
		t.Errorf("Box not rescaled: got %+v, want %+v", first, want)
	}
	if dets[1].Label != "tool" {
		t.Errorf("Expected best class label 'tool', got %q", dets[1].Label)
	}
}

func TestDecodeYOLOShortBuffer(t *testing.T) {
	if dets := decodeYOLO(make([]float32, 5), 1, 10, 1, 1, 0.25, func(int) string { return "x" }); dets != nil {
		t.Errorf("Expected nil for short buffer, got %v", dets)
	}
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []models.Detection{
		{Label: "a", Confidence: 0.6, XMin: 2, YMin: 2, XMax: 102, YMax: 102},
		{Label: "a", Confidence: 0.9, XMin: 0, YMin: 0, XMax: 100, YMax: 100},
		{Label: "b", Confidence: 0.5, XMin: 0, YMin: 0, XMax: 100, YMax: 100},
		{Label: "a", Confidence: 0.4, XMin: 300, YMin: 300, XMax: 350, YMax: 350},
	}
	kept := nonMaxSuppression(dets, 0.7)

	if len(kept) != 3 {
		t.Fatalf("Expected 3 boxes after NMS, got %d: %+v", len(kept), kept)
	}
	if kept[0].Confidence != 0.9 {
		t.Errorf("Expected most confident box first, got %+v", kept[0])
	}
	for _, k := range kept {
		if k.Confidence == 0.6 {
			t.Errorf("Overlapping box of the same class survived: %+v", k)
		}
	}
}

func TestIoU(t *testing.T) {
	a := models.Detection{XMin: 0, YMin: 0, XMax: 10, YMax: 10}
	b := models.Detection{XMin: 5, YMin: 0, XMax: 15, YMax: 10}
	if got := iou(a, b); math.Abs(got-1.0/3.0) > 1e-9 {
		t.Errorf("Expected 1/3, got %f", got)
	}
	if got := iou(a, models.Detection{XMin: 20, YMin: 20, XMax: 30, YMax: 30}); got != 0 {
		t.Errorf("Expected 0 for disjoint boxes, got %f", got)
	}
}

func TestLoadLabels(t *testing.T) {
	labels, err := loadLabels("")
	if err != nil || len(labels) != 1 || labels[0] != DefaultLabel {
		t.Fatalf("Expected default label, got %v (err %v)", labels, err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "labels.txt")
	os.WriteFile(path, []byte("foreign_object\n\n  screw \nbolt\n"), 0644)
	labels, err = loadLabels(path)
	if err != nil {
		t.Fatalf("loadLabels failed: %v", err)
	}
	if fmt.Sprint(labels) != "[foreign_object screw bolt]" {
		t.Errorf("Unexpected labels %v", labels)
	}

	empty := filepath.Join(dir, "empty.txt")
	os.WriteFile(empty, []byte("\n\n"), 0644)
	if _, err := loadLabels(empty); err == nil {
		t.Error("Expected error for empty labels file")
	}
	if _, err := loadLabels(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("Expected error for missing labels file")
	}
}

func TestFillInput(t *testing.T) {
	size := 4
	dst := make([]float32, 3*size*size)
	fillInput(dst, testImage(8, 8), size)
	for i, v := range dst {
		if v < 0 || v > 1 {
			t.Fatalf("Value %d out of [0,1]: %f", i, v)
		}
	}
	// Синий канал тестового изображения постоянный: 100/255.
	if b := dst[2*size*size]; math.Abs(float64(b)-100.0/255.0) > 0.01 {
		t.Errorf("Unexpected blue channel value %f", b)
	}
}

func TestNewYOLOLoaderWithoutPath(t *testing.T) {
	if loader := NewYOLOLoader(YOLOConfig{}, discardLogger()); loader != nil {
		t.Error("Expected nil loader when model path is empty")
	}
	loader := NewYOLOLoader(YOLOConfig{ModelPath: filepath.Join(t.TempDir(), "missing.onnx")}, discardLogger())
	if _, err := loader(); err == nil {
		t.Error("Expected error for missing model file")
	}
}
