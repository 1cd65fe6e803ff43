package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	// ErrInvalidImage - содержимое не является изображением разрешенного формата.
	// Детали определения типа наружу не выдаются.
	ErrInvalidImage = errors.New("invalid image")
	// ErrDisallowedExtension - имя файла имеет неразрешенное расширение.
	ErrDisallowedExtension = errors.New("disallowed file extension")
)

// allowedExtensions - разрешенные расширения в имени файла от пользователя.
var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

// allowedImageTypes - разрешенные MIME-типы по содержимому и расширение, которое им присваивается.
var allowedImageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
}

// AllowedFile проверяет расширение в заявленном имени файла.
func AllowedFile(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	return allowedExtensions[ext]
}

// ValidateImage проверяет загруженный поток двумя независимыми проверками:
// расширение в имени файла и реальный тип по первым байтам содержимого.
// Возвращаемое расширение берется ТОЛЬКО из определенного типа, не из имени.
// Поток перематывается в начало перед возвратом.
func ValidateImage(stream io.ReadSeeker, claimedName string) (string, error) {
	if !AllowedFile(claimedName) {
		return "", ErrDisallowedExtension
	}

	mtype, err := mimetype.DetectReader(stream)
	// Перематываем в любом случае, вызывающий код будет читать поток с начала.
	if _, seekErr := stream.Seek(0, io.SeekStart); seekErr != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, seekErr)
	}
	if err != nil {
		return "", ErrInvalidImage
	}

	for mimeType, ext := range allowedImageTypes {
		if mtype.Is(mimeType) {
			return ext, nil
		}
	}
	return "", ErrInvalidImage
}

// SaveOriginal записывает поток в uploadDir под уникальным именем
// "<unix>_<uuid><ext>" и возвращает полный путь.
func SaveOriginal(src io.Reader, uploadDir, ext string) (string, error) {
	storedFilename := fmt.Sprintf("%d_%s%s", time.Now().Unix(), strings.ReplaceAll(uuid.NewString(), "-", ""), ext)
	filePath := filepath.Join(uploadDir, storedFilename)

	// O_EXCL: имя уникально, существующий файл не перезаписываем.
	outFile, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("не удалось создать файл на сервере (%s): %w", filePath, err)
	}

	if _, err := io.Copy(outFile, src); err != nil {
		outFile.Close()
		os.Remove(filePath)
		return "", fmt.Errorf("не удалось сохранить файл %s: %w", filePath, err)
	}
	if err := outFile.Close(); err != nil {
		os.Remove(filePath)
		return "", fmt.Errorf("не удалось закрыть файл %s: %w", filePath, err)
	}
	return filePath, nil
}

// GetImageContentType определяет Content-Type по расширению для ответа клиенту.
func GetImageContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SecureFilename приводит имя файла от пользователя к безопасному виду:
// только базовое имя, ASCII-буквы, цифры, '_', '-', '.'; без ведущих точек.
func SecureFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}
