package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// MaxUploadSize - жесткий предел размера запроса загрузки (16 МБ).
const MaxUploadSize = 16 << 20

// Config - настройки приложения из переменных окружения.
type Config struct {
	CookieSecret    string // Секрет подписи cookie. Пустой - будет сгенерирован при старте
	DBPath          string
	ListenPort      string
	UploadPath      string
	TemplatesPath   string
	ModelPath       string // Путь к ONNX-модели. Пустой - модель недоступна
	ModelLabelsPath string // Файл с именами классов, по одному на строку
	ModelConfidence float64
	OnnxRuntimeLib  string // Путь к разделяемой библиотеке onnxruntime
	LogPath         string
	LogLevel        string
	DefaultAdmin    string
	DefaultPassword string
	GinMode         string
	MaxUploadSize   int64

	// Defaulted - переменные, для которых взято значение по умолчанию.
	// main логирует их после настройки логгера.
	Defaulted []string
}

// Load читает необязательный файл .env (если он есть), затем окружение.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("не удалось прочитать %s: %w", envFile, err)
		}
	}

	c := &Config{MaxUploadSize: MaxUploadSize}
	c.CookieSecret = c.getEnv("COOKIE_SECRET", "")
	c.DBPath = c.getEnv("DB_PATH", filepath.Join(".", "data", "database.db"))
	c.ListenPort = c.getEnv("LISTEN_PORT", "8080")
	c.UploadPath = c.getEnv("UPLOAD_PATH", filepath.Join(".", "static", "uploads"))
	c.TemplatesPath = c.getEnv("TEMPLATES_PATH", "web/templates/*")
	c.ModelPath = c.getEnv("MODEL_PATH", "")
	c.ModelLabelsPath = c.getEnv("MODEL_LABELS_PATH", "")
	c.OnnxRuntimeLib = c.getEnv("ONNXRUNTIME_LIB", "")
	c.LogPath = c.getEnv("LOG_PATH", filepath.Join(".", "logs", "app.log"))
	c.LogLevel = c.getEnv("LOG_LEVEL", "info")
	c.DefaultAdmin = c.getEnv("DEFAULT_ADMIN_USERNAME", "admin")
	c.DefaultPassword = c.getEnv("DEFAULT_ADMIN_PASSWORD", "admin123")
	c.GinMode = c.getEnv("GIN_MODE", "release")

	conf, err := strconv.ParseFloat(c.getEnv("MODEL_CONFIDENCE", "0.25"), 64)
	if err != nil || conf < 0 || conf > 1 {
		return nil, fmt.Errorf("MODEL_CONFIDENCE должен быть числом в [0,1]")
	}
	c.ModelConfidence = conf

	return c, nil
}

// getEnv получает значение переменной окружения по ключу
// и запоминает ключ, если пришлось взять значение по умолчанию.
func (c *Config) getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	c.Defaulted = append(c.Defaulted, key)
	return fallback
}
