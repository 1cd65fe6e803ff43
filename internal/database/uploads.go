package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"fodetect/internal/models"

	"github.com/sirupsen/logrus"
)

// UploadRepository - хранилище записей об обработанных изображениях.
type UploadRepository struct {
	db  *sql.DB
	log logrus.FieldLogger
}

const uploadColumns = `id, file_name, file_path, detection_result, confidence_score, remarks, upload_time, processed_file_path`

// Create сохраняет запись и возвращает ее ID.
func (r *UploadRepository) Create(ctx context.Context, u *models.Upload) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO uploads (file_name, file_path, detection_result, confidence_score, remarks, upload_time, processed_file_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.FileName, u.FilePath, u.DetectionResult, u.ConfidenceScore, u.Remarks, u.UploadTime, u.ProcessedFilePath)
	if err != nil {
		return 0, fmt.Errorf("ошибка выполнения запроса CreateUpload: %w", err)
	}

	lastID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ошибка получения ID записи CreateUpload: %w", err)
	}
	u.ID = lastID

	r.log.WithFields(logrus.Fields{
		"id":     lastID,
		"file":   u.FileName,
		"result": u.DetectionResult,
	}).Info("Запись о загрузке создана")
	return lastID, nil
}

// Get ищет запись по ID. Возвращает nil, nil, если записи нет.
func (r *UploadRepository) Get(ctx context.Context, id int64) (*models.Upload, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id)

	u := &models.Upload{}
	err := scanUpload(row, u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка сканирования GetUpload для ID %d: %w", id, err)
	}
	return u, nil
}

// List возвращает страницу записей (новые сначала) и общее количество записей.
// page начинается с 1; значения меньше 1 трактуются как 1.
func (r *UploadRepository) List(ctx context.Context, page, pageSize int) ([]models.Upload, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return nil, 0, fmt.Errorf("некорректный размер страницы: %d", pageSize)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM uploads`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчета записей: %w", err)
	}

	// Без ограничения (page-1)*pageSize переполняется и SQLite берет OFFSET 0
	if limit := math.MaxInt32 / pageSize; page > limit {
		page = limit
	}
	offset := (page - 1) * pageSize
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads ORDER BY upload_time DESC, id DESC LIMIT ? OFFSET ?`,
		pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка запроса страницы %d: %w", page, err)
	}
	defer rows.Close()

	uploads, err := collectUploads(rows)
	if err != nil {
		return nil, 0, err
	}
	return uploads, total, nil
}

// All возвращает все записи, новые сначала. Используется для общего отчета.
func (r *UploadRepository) All(ctx context.Context) ([]models.Upload, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+uploadColumns+` FROM uploads ORDER BY upload_time DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса всех записей: %w", err)
	}
	defer rows.Close()
	return collectUploads(rows)
}

// UpdateRemarks обновляет примечания. Возвращает false, если записи нет.
func (r *UploadRepository) UpdateRemarks(ctx context.Context, id int64, remarks string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE uploads SET remarks = ? WHERE id = ?`, remarks, id)
	if err != nil {
		return false, fmt.Errorf("ошибка обновления примечаний для ID %d: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ошибка получения rowsAffected в UpdateRemarks: %w", err)
	}
	return rowsAffected > 0, nil
}

// Delete удаляет строку. Файлы удаляет вызывающая сторона (services.RecordService).
// Возвращает false, если записи нет.
func (r *UploadRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления записи ID %d: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ошибка получения rowsAffected в DeleteUpload: %w", err)
	}
	return rowsAffected > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(s scanner, u *models.Upload) error {
	var result sql.NullString
	err := s.Scan(
		&u.ID,
		&u.FileName,
		&u.FilePath,
		&result,
		&u.ConfidenceScore,
		&u.Remarks,
		&u.UploadTime,
		&u.ProcessedFilePath,
	)
	u.DetectionResult = result.String
	return err
}

func collectUploads(rows *sql.Rows) ([]models.Upload, error) {
	var uploads []models.Upload
	for rows.Next() {
		var u models.Upload
		if err := scanUpload(rows, &u); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения записей: %w", err)
	}
	return uploads, nil
}
