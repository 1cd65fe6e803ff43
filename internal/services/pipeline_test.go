package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"fodetect/internal/models"
)

func threeDetections() []models.Detection {
	return []models.Detection{
		{Label: "foreign_object", Confidence: 0.4, XMin: 1, YMin: 1, XMax: 5, YMax: 5},
		{Label: "foreign_object", Confidence: 0.9, XMin: 2, YMin: 2, XMax: 6, YMax: 6},
		{Label: "foreign_object", Confidence: 0.1, XMin: 3, YMin: 3, XMax: 7, YMax: 7},
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name      string
		dets      []models.Detection
		wantLabel string
		wantConf  float64
	}{
		{"picks highest", threeDetections(), "foreign_object", 0.9},
		{"empty", nil, models.ResultNoObject, 0},
		{"all below", []models.Detection{{Label: "x", Confidence: 0.1}, {Label: "x", Confidence: 0.2}}, models.ResultNoObject, 0},
		{"exactly threshold excluded", []models.Detection{{Label: "x", Confidence: 0.25}}, models.ResultNoObject, 0},
		{"just above", []models.Detection{{Label: "screw", Confidence: 0.26}}, "screw", 0.26},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, conf := Summarize(tt.dets, AcceptanceThreshold)
			if label != tt.wantLabel || conf != tt.wantConf {
				t.Errorf("Summarize = (%q, %v), want (%q, %v)", label, conf, tt.wantLabel, tt.wantConf)
			}
		})
	}
}

type pipelineFixture struct {
	dir       string
	store     *memStore
	audit     *memAudit
	detector  *fakeDetector
	annotator *recordingAnnotator
	svc       *UploadService
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	dir := t.TempDir()
	f := &pipelineFixture{
		dir:       dir,
		store:     newMemStore(),
		audit:     &memAudit{},
		detector:  &fakeDetector{detections: threeDetections()},
		annotator: &recordingAnnotator{dir: dir},
	}
	f.svc = NewUploadService(f.store, f.audit, f.detector, f.annotator, dir, 16<<20, discardLogger())
	return f
}

func (f *pipelineFixture) input(t *testing.T, name string, data []byte) UploadInput {
	return UploadInput{AdminID: 1, FileName: name, Size: int64(len(data)), Content: bytes.NewReader(data)}
}

func TestProcessSuccess(t *testing.T) {
	f := newPipelineFixture(t)

	res, err := f.svc.Process(context.Background(), f.input(t, "part 1.png", jpegBytes(t, 16, 16)))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	u := res.Upload
	if u.ID == 0 {
		t.Fatal("Expected record id to be set")
	}
	if u.DetectionResult != "foreign_object" || !u.ConfidenceScore.Valid || u.ConfidenceScore.Float64 != 0.9 {
		t.Errorf("Unexpected summary %q %+v", u.DetectionResult, u.ConfidenceScore)
	}
	if len(f.annotator.received) != 3 {
		t.Errorf("Annotator should receive all 3 detections, got %d", len(f.annotator.received))
	}
	if u.FileName != "part_1.png" {
		t.Errorf("Expected sanitized name, got %q", u.FileName)
	}
	// Имя файла с расширением .png, а содержимое JPEG: сохраняется как .jpg.
	if got := u.FilePath[len(u.FilePath)-4:]; got != ".jpg" {
		t.Errorf("Expected stored extension from content, got %q", got)
	}
	if !fileExists(u.FilePath) || !u.HasProcessed() || !fileExists(u.ProcessedFilePath.String) {
		t.Error("Expected original and processed files on disk")
	}

	wantTrace := []Stage{StageReceived, StageValidated, StageStored, StageInferred, StageAnnotated, StagePersisted, StageLogged, StageDone}
	if fmt.Sprint(res.Trace) != fmt.Sprint(wantTrace) {
		t.Errorf("Trace = %v, want %v", res.Trace, wantTrace)
	}

	if acts := f.audit.actions(); len(acts) != 1 || acts[0] != models.ActionUploadDetection {
		t.Errorf("Expected single upload audit entry, got %v", acts)
	}
}

func TestProcessNoQualifyingDetections(t *testing.T) {
	f := newPipelineFixture(t)
	f.detector.detections = []models.Detection{{Label: "foreign_object", Confidence: 0.2, XMax: 4, YMax: 4}}

	res, err := f.svc.Process(context.Background(), f.input(t, "a.jpg", jpegBytes(t, 8, 8)))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Upload.DetectionResult != models.ResultNoObject || res.Upload.ConfidenceScore.Float64 != 0 {
		t.Errorf("Expected sentinel result, got %q %v", res.Upload.DetectionResult, res.Upload.ConfidenceScore)
	}
	// Низкоуверенный объект все равно рисуется.
	if len(f.annotator.received) != 1 {
		t.Errorf("Expected annotator to receive the low confidence detection")
	}
}

func TestProcessNoDetectionsSkipsAnnotation(t *testing.T) {
	f := newPipelineFixture(t)
	f.detector.detections = []models.Detection{}

	res, err := f.svc.Process(context.Background(), f.input(t, "a.jpg", jpegBytes(t, 8, 8)))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Upload.HasProcessed() {
		t.Error("Expected no processed image")
	}
	if res.Trace[4] != StageAnnotationSkipped {
		t.Errorf("Expected annotation_skipped, got %v", res.Trace)
	}
}

func TestProcessAnnotationFailureIsNotFatal(t *testing.T) {
	f := newPipelineFixture(t)
	f.annotator.fail = true

	res, err := f.svc.Process(context.Background(), f.input(t, "a.jpg", jpegBytes(t, 8, 8)))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Upload.HasProcessed() || res.Upload.DetectionResult != "foreign_object" {
		t.Errorf("Unexpected record %+v", res.Upload)
	}
}

func TestProcessModelUnavailableDegrades(t *testing.T) {
	f := newPipelineFixture(t)
	f.detector.detections = []models.Detection{}
	f.detector.err = fmt.Errorf("%w: not configured", ErrModelUnavailable)

	res, err := f.svc.Process(context.Background(), f.input(t, "a.jpg", jpegBytes(t, 8, 8)))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Upload.DetectionResult != models.ResultModelUnavailable || res.Upload.ConfidenceScore.Valid {
		t.Errorf("Expected degraded record, got %q %+v", res.Upload.DetectionResult, res.Upload.ConfidenceScore)
	}
	if res.Degraded == nil || res.Degraded.Kind != ModelUnavailable || res.Degraded.Message == "" {
		t.Errorf("Expected ModelUnavailable degradation, got %+v", res.Degraded)
	}
	if !errors.Is(res.Degraded, ErrModelUnavailable) {
		t.Error("Degradation should wrap ErrModelUnavailable")
	}
	if len(f.store.uploads) != 1 {
		t.Error("Expected record to be stored")
	}
}

func TestProcessTruncatedJPEGIsInferenceFailure(t *testing.T) {
	dir := t.TempDir()
	store, audit := newMemStore(), &memAudit{}
	engine := NewEngine(func() (Model, error) { return &stubModel{}, nil }, discardLogger())
	svc := NewUploadService(store, audit, engine, ImageAnnotator{OutputDir: dir}, dir, 16<<20, discardLogger())

	// Сигнатура JPEG на месте, но данные обрезаны: проверку типа проходит, декодер падает.
	data := jpegBytes(t, 32, 32)[:40]
	in := UploadInput{AdminID: 1, FileName: "cut.jpg", Size: int64(len(data)), Content: bytes.NewReader(data)}

	_, err := svc.Process(context.Background(), in)
	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected *PipelineError, got %v", err)
	}
	if perr.Kind != InferenceFailure || perr.Stage != StageInferred {
		t.Errorf("Got %s at %s, want %s at %s", perr.Kind, perr.Stage, InferenceFailure, StageInferred)
	}
	if !errors.Is(err, ErrImageUnreadable) {
		t.Errorf("Expected ErrImageUnreadable in chain, got %v", err)
	}
	if n := countFiles(t, dir); n != 0 {
		t.Errorf("Expected no files left, found %d", n)
	}
	if len(store.uploads) != 0 {
		t.Error("Expected no record")
	}
}

func TestProcessRejections(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		data      []byte
		size      int64
		detErr    error
		storeErr  error
		wantKind  ErrorKind
		wantStage Stage
	}{
		{"no file name", "", []byte("x"), 1, nil, nil, InputRejected, StageReceived},
		{"too large", "a.jpg", []byte("x"), 17 << 20, nil, nil, InputRejected, StageReceived},
		{"bad extension", "a.bmp", nil, 0, nil, nil, InputRejected, StageValidated},
		{"not an image", "a.png", []byte("<html>hello</html>"), 18, nil, nil, InputRejected, StageValidated},
		{"unreadable", "a.jpg", nil, 0, ErrImageUnreadable, nil, InferenceFailure, StageInferred},
		{"inference", "a.jpg", nil, 0, ErrInference, nil, InferenceFailure, StageInferred},
		{"persistence", "a.jpg", nil, 0, nil, errors.New("disk I/O error"), PersistenceFailure, StagePersisted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t)
			f.detector.err = tt.detErr
			f.store.createErr = tt.storeErr

			data := tt.data
			if data == nil {
				data = jpegBytes(t, 8, 8)
			}
			in := f.input(t, tt.file, data)
			if tt.size > 0 {
				in.Size = tt.size
			}

			_, err := f.svc.Process(context.Background(), in)
			var perr *PipelineError
			if !errors.As(err, &perr) {
				t.Fatalf("Expected *PipelineError, got %v", err)
			}
			if perr.Kind != tt.wantKind || perr.Stage != tt.wantStage {
				t.Errorf("Got %s at %s, want %s at %s", perr.Kind, perr.Stage, tt.wantKind, tt.wantStage)
			}
			if perr.Message == "" {
				t.Error("Expected user facing message")
			}
			// Отказ не оставляет файлов и записей.
			if n := countFiles(t, f.dir); n != 0 {
				t.Errorf("Expected no files left after rejection, found %d", n)
			}
			if len(f.store.uploads) != 0 || len(f.audit.entries) != 0 {
				t.Error("Expected no record and no audit entry after rejection")
			}
		})
	}
}

func TestProcessAuditFailureKeepsUpload(t *testing.T) {
	f := newPipelineFixture(t)
	f.audit.err = errors.New("database is locked")

	res, err := f.svc.Process(context.Background(), f.input(t, "a.jpg", jpegBytes(t, 8, 8)))
	if err != nil {
		t.Fatalf("Audit failure must not reject upload: %v", err)
	}
	if len(f.store.uploads) != 1 {
		t.Error("Expected record to remain stored")
	}
	for _, s := range res.Trace {
		if s == StageLogged {
			t.Error("Logged stage reported despite audit failure")
		}
	}
}
