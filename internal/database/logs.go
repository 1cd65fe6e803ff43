package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fodetect/internal/models"

	"github.com/sirupsen/logrus"
)

// LogRepository - журнал аудита. Только добавление и чтение, без UPDATE/DELETE.
type LogRepository struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// Record добавляет запись о действии администратора.
// Пустая строка details сохраняется как NULL.
func (r *LogRepository) Record(ctx context.Context, adminID int64, action, details string) error {
	if adminID <= 0 {
		return fmt.Errorf("запись аудита '%s' без администратора недопустима", action)
	}
	d := sql.NullString{String: details, Valid: details != ""}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO logs (admin_id, action, timestamp, details) VALUES (?, ?, ?, ?)`,
		adminID, action, time.Now(), d)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита '%s' для admin %d: %w", action, adminID, err)
	}
	return nil
}

// Recent возвращает последние limit записей, новые сначала.
func (r *LogRepository) Recent(ctx context.Context, limit int) ([]models.Log, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, admin_id, action, timestamp, details FROM logs ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса журнала аудита: %w", err)
	}
	defer rows.Close()

	var entries []models.Log
	for rows.Next() {
		var e models.Log
		if err := rows.Scan(&e.ID, &e.AdminID, &e.Action, &e.Timestamp, &e.Details); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
