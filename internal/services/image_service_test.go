package services

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateImage(t *testing.T) {
	jpg := jpegBytes(t, 8, 8)
	pngData := pngBytes(t, 8, 8)

	tests := []struct {
		name    string
		file    string
		data    []byte
		wantExt string
		wantErr error
	}{
		{"jpeg", "photo.jpg", jpg, ".jpg", nil},
		{"jpeg upper", "PHOTO.JPEG", jpg, ".jpg", nil},
		{"png", "scan.png", pngData, ".png", nil},
		{"png name jpeg bytes", "spoof.png", jpg, ".jpg", nil},
		{"jpg name png bytes", "spoof.jpg", pngData, ".png", nil},
		{"text with image name", "notes.jpg", []byte("just some text, not an image"), "", ErrInvalidImage},
		{"empty", "empty.png", nil, "", ErrInvalidImage},
		{"gif extension", "anim.gif", jpg, "", ErrDisallowedExtension},
		{"no extension", "photo", jpg, "", ErrDisallowedExtension},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bytes.NewReader(tt.data)
			ext, err := ValidateImage(r, tt.file)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if ext != tt.wantExt {
				t.Errorf("Expected ext %q, got %q", tt.wantExt, ext)
			}
			if pos, _ := r.Seek(0, io.SeekCurrent); pos != 0 {
				t.Errorf("Stream not rewound, position %d", pos)
			}
		})
	}
}

func TestSaveOriginal(t *testing.T) {
	dir := t.TempDir()
	data := jpegBytes(t, 4, 4)

	p1, err := SaveOriginal(bytes.NewReader(data), dir, ".jpg")
	if err != nil {
		t.Fatalf("SaveOriginal failed: %v", err)
	}
	p2, err := SaveOriginal(bytes.NewReader(data), dir, ".jpg")
	if err != nil {
		t.Fatalf("SaveOriginal failed: %v", err)
	}
	if p1 == p2 {
		t.Fatal("Expected unique file names")
	}
	if filepath.Dir(p1) != dir || filepath.Ext(p1) != ".jpg" {
		t.Errorf("Unexpected path %s", p1)
	}
	got, err := os.ReadFile(p1)
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("Stored content mismatch (err %v)", err)
	}
}

func TestSaveOriginalMissingDir(t *testing.T) {
	if _, err := SaveOriginal(strings.NewReader("x"), filepath.Join(t.TempDir(), "nope"), ".png"); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func TestGetImageContentType(t *testing.T) {
	tests := map[string]string{
		"a.jpg":               "image/jpeg",
		"b.JPEG":              "image/jpeg",
		"processed_abc.jpg":   "image/jpeg",
		"c.png":               "image/png",
		"d.bin":               "application/octet-stream",
		"/uploads/1_x.PNG":    "image/png",
		"no-extension-at-all": "application/octet-stream",
	}
	for name, want := range tests {
		if got := GetImageContentType(name); got != want {
			t.Errorf("GetImageContentType(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestSecureFilename(t *testing.T) {
	tests := map[string]string{
		"photo.jpg":              "photo.jpg",
		"../../etc/passwd":       "passwd",
		`C:\Users\me\My Pic.png`: "My_Pic.png",
		"..hidden.png":           "hidden.png",
		"фото.jpg":               "jpg",
		"":                       "upload",
		"???":                    "upload",
	}
	for in, want := range tests {
		if got := SecureFilename(in); got != want {
			t.Errorf("SecureFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken failed: %v", err)
	}
	b, _ := GenerateSecureToken(32)
	if a == b {
		t.Error("Expected different tokens")
	}
	if len(a) != 43 {
		t.Errorf("Expected 43 chars for 32 bytes, got %d", len(a))
	}
	if _, err := GenerateSecureToken(0); err == nil {
		t.Error("Expected error for zero length")
	}
}
