package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"fodetect/internal/models"

	"github.com/sirupsen/logrus"
)

// ErrRecordNotFound - записи с таким id нет.
var ErrRecordNotFound = errors.New("record not found")

// HistoryPageSize - записей на странице истории.
const HistoryPageSize = 10

// RecordStore - операции над записями загрузок.
type RecordStore interface {
	Get(ctx context.Context, id int64) (*models.Upload, error)
	List(ctx context.Context, page, pageSize int) ([]models.Upload, int, error)
	All(ctx context.Context) ([]models.Upload, error)
	UpdateRemarks(ctx context.Context, id int64, remarks string) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// HistoryPage - одна страница истории.
type HistoryPage struct {
	Items      []models.Upload
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

func (p *HistoryPage) HasPrev() bool { return p.Page > 1 }
func (p *HistoryPage) HasNext() bool { return p.Page < p.TotalPages }
func (p *HistoryPage) PrevPage() int { return p.Page - 1 }
func (p *HistoryPage) NextPage() int { return p.Page + 1 }

// RecordService - жизненный цикл записей: просмотр, примечания, удаление с файлами.
type RecordService struct {
	store RecordStore
	audit AuditLogger
	log   logrus.FieldLogger
}

func NewRecordService(store RecordStore, audit AuditLogger, log logrus.FieldLogger) *RecordService {
	return &RecordService{store: store, audit: audit, log: log}
}

// History возвращает страницу page (с 1). TotalPages = ceil(total/pageSize).
func (s *RecordService) History(ctx context.Context, page, pageSize int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = HistoryPageSize
	}
	// Огромный ?page= переполнил бы смещение (page-1)*pageSize
	if limit := math.MaxInt32 / pageSize; page > limit {
		page = limit
	}
	items, total, err := s.store.List(ctx, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("не удалось получить историю: %w", err)
	}
	totalPages := (total + pageSize - 1) / pageSize
	// За концом истории - одна пустая страница со ссылкой назад
	if page > totalPages+1 {
		page = totalPages + 1
		items = nil
	}
	return &HistoryPage{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

// Get возвращает запись или ErrRecordNotFound.
func (s *RecordService) Get(ctx context.Context, id int64) (*models.Upload, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrRecordNotFound
	}
	return u, nil
}

// UpdateRemarks заменяет примечания и пишет одну запись в журнал.
func (s *RecordService) UpdateRemarks(ctx context.Context, adminID, id int64, remarks string) error {
	found, err := s.store.UpdateRemarks(ctx, id, remarks)
	if err != nil {
		return err
	}
	if !found {
		return ErrRecordNotFound
	}
	s.record(ctx, adminID, models.ActionUpdateRemarks, fmt.Sprintf("Updated remarks for image ID %d", id))
	return nil
}

// Delete удаляет оба файла (ошибки файловой системы только логируются),
// затем строку, затем пишет запись в журнал.
func (s *RecordService) Delete(ctx context.Context, adminID, id int64) error {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrRecordNotFound
	}

	paths := []string{u.FilePath}
	if u.HasProcessed() {
		paths = append(paths, u.ProcessedFilePath.String)
	}
	for _, p := range paths {
		if err := removeIfExists(p); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"upload_id": id, "path": p}).Error("Не удалось удалить файл изображения")
		}
	}

	found, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrRecordNotFound
	}
	s.log.WithField("upload_id", id).Info("Запись удалена")
	s.record(ctx, adminID, models.ActionDeleteImage, fmt.Sprintf("Deleted image ID %d (%s)", id, u.FileName))
	return nil
}

func (s *RecordService) record(ctx context.Context, adminID int64, action, details string) {
	if err := s.audit.Record(ctx, adminID, action, details); err != nil {
		s.log.WithError(err).WithField("action", action).Error("Не удалось записать действие в журнал аудита")
	}
}

// removeIfExists удаляет файл; отсутствующий файл и пустой путь ошибкой не считаются.
func removeIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("не удалось удалить файл %s: %w", path, err)
	}
	return nil
}
