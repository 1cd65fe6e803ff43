package models

import (
	// Стандартные библиотеки
	"database/sql" // Для NULLable полей (sql.NullTime, sql.NullString, sql.NullFloat64)
	"time"         // Для временных меток
)

// Admin представляет администратора системы.
// Поля соответствуют столбцам таблицы 'admins'.
type Admin struct {
	ID           int64        `json:"id"`         // Уникальный идентификатор (Primary Key)
	Username     string       `json:"username"`   // Имя пользователя (UNIQUE)
	PasswordHash string       `json:"-"`          // bcrypt-хеш пароля (НЕ ДОЛЖЕН передаваться клиенту)
	CreatedAt    time.Time    `json:"created_at"` // Время создания учетной записи
	LastLogin    sql.NullTime `json:"last_login"` // Время последнего входа (NULL, если входа еще не было)
}

// Upload представляет запись об одном обработанном изображении (таблица 'uploads').
type Upload struct {
	ID                int64           `json:"id"`
	FileName          string          `json:"file_name"`            // Оригинальное (очищенное) имя файла от пользователя
	FilePath          string          `json:"-"`                    // Путь к сохраненному оригиналу на диске
	DetectionResult   string          `json:"detection_result"`     // Метка класса или ResultNoObject
	ConfidenceScore   sql.NullFloat64 `json:"confidence_score"`     // Уверенность в [0,1], NULL если детекции не было
	Remarks           sql.NullString  `json:"remarks"`              // Примечания администратора
	UploadTime        time.Time       `json:"upload_time"`          // Время загрузки
	ProcessedFilePath sql.NullString  `json:"-"`                    // Путь к размеченному изображению (NULL, если разметки нет)
}

// Log - неизменяемая запись журнала аудита (таблица 'logs').
type Log struct {
	ID        int64          `json:"id"`
	AdminID   int64          `json:"admin_id"` // Кто выполнил действие (обязательно)
	Action    string         `json:"action"`   // Тип действия, см. константы Action*
	Timestamp time.Time      `json:"timestamp"`
	Details   sql.NullString `json:"details"`
}

// Detection - один найденный моделью объект. В БД не хранится.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"` // в диапазоне [0,1]
	// Рамка в пикселях исходного изображения
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Значения detection_result, не являющиеся меткой класса.
const (
	ResultNoObject         = "no object detected"
	ResultModelUnavailable = "model unavailable"
)

// Действия журнала аудита.
const (
	ActionLogin                = "login"
	ActionChangePassword       = "change_password"
	ActionUploadDetection      = "upload_detection"
	ActionUpdateRemarks        = "update_remarks"
	ActionDeleteImage          = "delete_image"
	ActionGenerateReport       = "generate_report"
	ActionGenerateSingleReport = "generate_single_report"
)

// HasProcessed сообщает, есть ли у записи размеченное изображение.
func (u *Upload) HasProcessed() bool {
	return u.ProcessedFilePath.Valid && u.ProcessedFilePath.String != ""
}

// RemarksText возвращает примечания или пустую строку.
func (u *Upload) RemarksText() string {
	if !u.Remarks.Valid {
		return ""
	}
	return u.Remarks.String
}
