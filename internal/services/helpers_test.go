package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"fodetect/internal/models"

	"github.com/sirupsen/logrus"
)

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(w, h), nil); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(w, h)); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	return len(entries)
}

// fakeDetector возвращает заранее заданный результат.
type fakeDetector struct {
	detections []models.Detection
	err        error
}

func (f *fakeDetector) Predict(ctx context.Context, path string) ([]models.Detection, error) {
	return f.detections, f.err
}

// recordingAnnotator запоминает, что ему передали, и пишет пустой файл.
type recordingAnnotator struct {
	dir      string
	received []models.Detection
	fail     bool
}

func (a *recordingAnnotator) Annotate(path string, dets []models.Detection) (string, error) {
	a.received = dets
	if a.fail {
		return "", errors.New("encode failed")
	}
	out := filepath.Join(a.dir, ProcessedPrefix+"test.jpg")
	if err := os.WriteFile(out, []byte("x"), 0644); err != nil {
		return "", err
	}
	return out, nil
}

// memStore - хранилище записей в памяти.
type memStore struct {
	mu        sync.Mutex
	uploads   map[int64]*models.Upload
	nextID    int64
	createErr error
	deleted   []int64
}

func newMemStore() *memStore {
	return &memStore{uploads: map[int64]*models.Upload{}}
}

func (s *memStore) Create(ctx context.Context, u *models.Upload) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return 0, s.createErr
	}
	s.nextID++
	u.ID = s.nextID
	cp := *u
	s.uploads[u.ID] = &cp
	return u.ID, nil
}

func (s *memStore) Get(ctx context.Context, id int64) (*models.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) List(ctx context.Context, page, pageSize int) ([]models.Upload, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Upload
	for id := s.nextID; id > 0; id-- {
		if u, ok := s.uploads[id]; ok {
			all = append(all, *u)
		}
	}
	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (s *memStore) All(ctx context.Context) ([]models.Upload, error) {
	items, _, err := s.List(ctx, 1, 1<<30)
	return items, err
}

func (s *memStore) UpdateRemarks(ctx context.Context, id int64, remarks string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return false, nil
	}
	u.Remarks.String, u.Remarks.Valid = remarks, true
	return true, nil
}

func (s *memStore) Delete(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uploads[id]; !ok {
		return false, nil
	}
	delete(s.uploads, id)
	s.deleted = append(s.deleted, id)
	return true, nil
}

type auditEntry struct {
	adminID int64
	action  string
	details string
}

type memAudit struct {
	mu      sync.Mutex
	entries []auditEntry
	err     error
}

func (a *memAudit) Record(ctx context.Context, adminID int64, action, details string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, auditEntry{adminID, action, details})
	return nil
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.action)
	}
	return out
}
