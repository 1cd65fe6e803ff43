package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fodetect/internal/models"

	"github.com/sirupsen/logrus"
)

// ErrAdminExists возвращается при попытке создать администратора с занятым именем.
var ErrAdminExists = errors.New("администратор с таким именем уже существует")

// AdminRepository - доступ к таблице admins.
type AdminRepository struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// Create создает администратора и возвращает его ID.
// Нарушение уникальности имени превращается в ErrAdminExists.
func (r *AdminRepository) Create(ctx context.Context, username, passwordHash string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ошибка начала транзакции CreateAdmin: %w", err)
	}
	// Rollback после успешного Commit ничего не делает.
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO admins (username, password_hash, created_at) VALUES (?, ?, ?)",
		username, passwordHash, time.Now())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, fmt.Errorf("%w: '%s'", ErrAdminExists, username)
		}
		return 0, fmt.Errorf("ошибка при выполнении запроса CreateAdmin: %w", err)
	}

	lastID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ошибка при получении ID администратора: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("ошибка фиксации транзакции CreateAdmin: %w", err)
	}

	r.log.WithFields(logrus.Fields{"username": username, "id": lastID}).Info("Создан администратор")
	return lastID, nil
}

// GetByUsername ищет администратора по имени.
// Возвращает nil, nil, если администратор не найден.
func (r *AdminRepository) GetByUsername(ctx context.Context, username string) (*models.Admin, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at, last_login FROM admins WHERE username = ?", username)
	return scanAdmin(row, username)
}

// GetByID ищет администратора по ID. Возвращает nil, nil, если не найден.
func (r *AdminRepository) GetByID(ctx context.Context, id int64) (*models.Admin, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at, last_login FROM admins WHERE id = ?", id)
	return scanAdmin(row, fmt.Sprintf("id=%d", id))
}

func scanAdmin(row *sql.Row, key string) (*models.Admin, error) {
	admin := &models.Admin{}
	err := row.Scan(&admin.ID, &admin.Username, &admin.PasswordHash, &admin.CreatedAt, &admin.LastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка сканирования администратора %s: %w", key, err)
	}
	return admin, nil
}

// TouchLastLogin записывает время входа.
func (r *AdminRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE admins SET last_login = ? WHERE id = ?", at, id); err != nil {
		return fmt.Errorf("ошибка обновления last_login для ID %d: %w", id, err)
	}
	return nil
}

// UpdatePassword заменяет хеш пароля.
func (r *AdminRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE admins SET password_hash = ? WHERE id = ?", passwordHash, id)
	if err != nil {
		return fmt.Errorf("ошибка обновления пароля для ID %d: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения rowsAffected в UpdatePassword: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("администратор с ID %d не найден", id)
	}
	return nil
}

// EnsureDefault создает администратора по умолчанию, если его еще нет.
// Возвращает true, если запись была создана.
func (r *AdminRepository) EnsureDefault(ctx context.Context, username, passwordHash string) (bool, error) {
	existing, err := r.GetByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if _, err := r.Create(ctx, username, passwordHash); err != nil {
		return false, err
	}
	r.log.WithField("username", username).Warn("Создан администратор по умолчанию. Смените пароль!")
	return true, nil
}
