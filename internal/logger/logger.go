package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// New создает логгер, пишущий одновременно в stdout и в файл logPath (дозапись).
// Возвращает также файл, который нужно закрыть при завершении.
func New(logPath, level string) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("неизвестный уровень логирования %q: %w", level, err)
	}
	log.SetLevel(lvl)

	if logPath == "" {
		log.SetOutput(os.Stdout)
		return log, io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("не удалось создать папку для логов: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("не удалось открыть файл лога %s: %w", logPath, err)
	}
	log.SetOutput(io.MultiWriter(os.Stdout, file))
	return log, file, nil
}
