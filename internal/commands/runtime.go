// Package commands - командная строка fodetect: serve, add-admin и audit.
package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"fodetect/internal/config"
	"fodetect/internal/database"
	"fodetect/internal/logger"

	"github.com/sirupsen/logrus"
)

// runtime - общие ресурсы команды: конфигурация, логгер, база данных.
type runtime struct {
	cfg       *config.Config
	log       *logrus.Logger
	logCloser io.Closer
	store     *database.Store
}

// openRuntime читает конфигурацию, настраивает логгер, проверяет папки и открывает БД.
func openRuntime(envFile string) (*runtime, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	log, closer, err := logger.New(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	for _, key := range cfg.Defaulted {
		log.WithField("key", key).Debug("Переменная окружения не установлена, используется значение по умолчанию")
	}

	rt := &runtime{cfg: cfg, log: log, logCloser: closer}

	// Папки проверяем ДО открытия БД.
	for _, dir := range []string{filepath.Dir(cfg.DBPath), cfg.UploadPath} {
		if err := checkOrCreateDir(dir, log); err != nil {
			rt.Close()
			return nil, err
		}
	}

	store, err := database.Open(cfg.DBPath, log)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("ошибка инициализации базы данных: %w", err)
	}
	rt.store = store
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.log.WithError(err).Error("Ошибка закрытия базы данных")
		}
	}
	if rt.logCloser != nil {
		rt.logCloser.Close()
	}
}

// checkOrCreateDir проверяет, что путь - директория, и создает ее со всеми родителями, если ее нет.
func checkOrCreateDir(dirPath string, log logrus.FieldLogger) error {
	if dirPath == "" || dirPath == "/" {
		return fmt.Errorf("указан небезопасный путь для директории: %q", dirPath)
	}

	info, err := os.Stat(dirPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.WithField("path", dirPath).Info("Папка не найдена, создаем")
		if err := os.MkdirAll(dirPath, 0755); err != nil {
			return fmt.Errorf("не удалось создать папку %s: %w", dirPath, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("ошибка при проверке папки %s: %w", dirPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("путь %s существует, но не является директорией", dirPath)
	}
	log.WithField("path", dirPath).Debug("Папка найдена")
	return nil
}
