package database

import (
	// Стандартные библиотеки
	"context"      // Для операций с таймаутом/отменой
	"database/sql" // Основной пакет для работы с SQL базами данных
	"fmt"          // Для форматирования ошибок
	"time"         // Для настроек пула соединений

	// Сторонние библиотеки
	"github.com/sirupsen/logrus"

	// Драйвер SQLite. Пустой импорт регистрирует драйвер "sqlite" в database/sql.
	_ "modernc.org/sqlite"
)

// Store - явный контекст доступа к данным. Создается один раз при старте
// процесса и передается в обработчики (вместо глобальной переменной DB).
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger

	Admins  *AdminRepository
	Uploads *UploadRepository
	Logs    *LogRepository
}

// Open открывает файл SQLite, проверяет соединение и создает таблицы.
func Open(dataSourceName string, logger logrus.FieldLogger) (*Store, error) {
	// Параметры драйвера modernc.org/sqlite:
	// - busy_timeout(5000): ждать снятия блокировки до 5 секунд;
	// - journal_mode(WAL): одновременное чтение и запись;
	// - foreign_keys(1): соблюдать внешние ключи (logs.admin_id);
	// - _time_format=sqlite: время пишется в сортируемом текстовом формате.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_time_format=sqlite", dataSourceName)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка при открытии %s: %w", dataSourceName, err)
	}

	// Для SQLite держим одно соединение: запись в один файл все равно последовательна.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка при проверке соединения с %s: %w", dataSourceName, err)
	}
	logger.WithField("path", dataSourceName).Info("Успешно подключились к базе данных")

	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка при создании таблиц: %w", err)
	}
	logger.Info("Таблицы и индексы успешно проверены/созданы")

	s := &Store{db: db, log: logger}
	s.Admins = &AdminRepository{db: db, log: logger}
	s.Uploads = &UploadRepository{db: db, log: logger}
	s.Logs = &LogRepository{db: db, log: logger}
	return s, nil
}

// Close закрывает пул соединений.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping проверяет, что база данных доступна.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// createTables создает таблицы 'admins', 'uploads', 'logs' и индексы, если их еще нет.
func createTables(db *sql.DB) error {
	adminsTableSQL := `
	CREATE TABLE IF NOT EXISTS admins (
		id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_login DATETIME NULL
	);`

	uploadsTableSQL := `
	CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		file_name TEXT NOT NULL,
		file_path TEXT NOT NULL,
		detection_result TEXT,
		confidence_score REAL NULL,
		remarks TEXT NULL,
		upload_time DATETIME NOT NULL,
		processed_file_path TEXT NULL
	);`

	// Журнал только дополняется; admin_id обязателен, каждое действие должно быть атрибутировано.
	logsTableSQL := `
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		admin_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		details TEXT NULL,
		FOREIGN KEY(admin_id) REFERENCES admins(id)
	);`

	statements := []struct {
		name string
		sql  string
	}{
		{"admins", adminsTableSQL},
		{"uploads", uploadsTableSQL},
		{"logs", logsTableSQL},
		{"idx_uploads_upload_time", `CREATE INDEX IF NOT EXISTS idx_uploads_upload_time ON uploads (upload_time);`},
		{"idx_logs_admin_id", `CREATE INDEX IF NOT EXISTS idx_logs_admin_id ON logs (admin_id);`},
	}

	for _, st := range statements {
		if _, err := db.Exec(st.sql); err != nil {
			return fmt.Errorf("ошибка при создании %s: %w", st.name, err)
		}
	}
	return nil
}
