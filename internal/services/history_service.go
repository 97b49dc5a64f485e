package services

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	apperr "github.com/gyasca/alibaba-hack-2025-backend/internal/errors"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/logger"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/models"
	"gorm.io/gorm"
)

var emptyPredictions = json.RawMessage("[]")

// AnalysisDateLayout parses analysis_date values: naive UTC, optional microseconds.
const AnalysisDateLayout = "2006-01-02T15:04:05.999999"

// formatAnalysisDate renders t as naive UTC with microseconds only when non-zero.
func formatAnalysisDate(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/int(time.Microsecond) == 0 {
		return t.Format("2006-01-02T15:04:05")
	}
	return t.Format("2006-01-02T15:04:05.000000")
}

type HistoryService struct {
	db *gorm.DB
}

func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{db: db}
}

// SaveInput is a validated save-results request.
type SaveInput struct {
	UserID         int64
	ImageURL       string
	Predictions    string
	ConditionCount int
}

// NormalizePredictions turns the submitted predictions value into stored JSON
// text. A JSON string is taken as pre-serialized text and must itself parse;
// any other value is stored compacted. The count is the array length only when
// the submitted value is an array, so a pre-serialized list counts as 0.
func NormalizePredictions(raw json.RawMessage) (string, int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) {
		return "", 0, apperr.Validation("history.normalize", "Invalid predictions format")
	}

	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", 0, apperr.Validation("history.normalize", "Invalid predictions format")
		}
		if !json.Valid([]byte(text)) {
			return "", 0, apperr.Validation("history.normalize", "Invalid predictions format")
		}
		return text, 0, nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return "", 0, apperr.Validation("history.normalize", "Invalid predictions format")
	}

	count := 0
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return "", 0, apperr.Validation("history.normalize", "Invalid predictions format")
		}
		count = len(items)
	}
	return compact.String(), count, nil
}

// Save inserts a history row inside a transaction.
func (s *HistoryService) Save(ctx context.Context, in SaveInput) (*models.AnalysisHistory, error) {
	row := &models.AnalysisHistory{
		UserID:            in.UserID,
		OriginalImagePath: in.ImageURL,
		Predictions:       in.Predictions,
		ConditionCount:    in.ConditionCount,
		AnalysisDate:      time.Now().UTC(),
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, apperr.Storage("history.save", "Failed to save to database", tx.Error)
	}
	if err := tx.Create(row).Error; err != nil {
		tx.Rollback()
		logger.WithError(err, "history_service").Error("Database error while saving history")
		return nil, apperr.Storage("history.save", "Failed to save to database", err)
	}
	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		logger.WithError(err, "history_service").Error("Database error while committing history")
		return nil, apperr.Storage("history.save", "Failed to save to database", err)
	}

	logger.Info("Saved analysis history", map[string]interface{}{
		"history_id":      row.ID,
		"user_id":         row.UserID,
		"condition_count": row.ConditionCount,
	})
	return row, nil
}

// ListByUser returns a user's rows, most recent first.
func (s *HistoryService) ListByUser(ctx context.Context, userID int64) ([]models.AnalysisHistory, error) {
	var rows []models.AnalysisHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("analysis_date DESC").
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Storage("history.list", "Failed to fetch history", err)
	}
	return rows, nil
}

// Delete removes one row by primary key. There is no soft delete.
func (s *HistoryService) Delete(ctx context.Context, id uint) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return apperr.Storage("history.delete", "Failed to delete record", tx.Error)
	}

	var row models.AnalysisHistory
	if err := tx.First(&row, id).Error; err != nil {
		tx.Rollback()
		if apperr.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("No history record found", map[string]interface{}{"history_id": id})
			return apperr.NotFound("history.delete", "History record not found")
		}
		return apperr.Storage("history.delete", "Failed to delete record", err)
	}

	if err := tx.Delete(&row).Error; err != nil {
		tx.Rollback()
		logger.WithError(err, "history_service").Error("Database error during deletion")
		return apperr.Storage("history.delete", "Failed to delete record", err)
	}
	if err := tx.Commit().Error; err != nil {
		tx.Rollback()
		return apperr.Storage("history.delete", "Failed to delete record", err)
	}

	logger.Info("Deleted history record", map[string]interface{}{"history_id": id})
	return nil
}

// ToHistoryRecord builds the API view of a row. A row whose predictions text
// is empty or not valid JSON is reported with no predictions and a count of 0.
func ToHistoryRecord(row models.AnalysisHistory) models.HistoryRecord {
	rec := models.HistoryRecord{
		ID:             row.ID,
		UserID:         row.UserID,
		ImageURL:       row.OriginalImagePath,
		Predictions:    emptyPredictions,
		ConditionCount: row.ConditionCount,
		AnalysisDate:   formatAnalysisDate(row.AnalysisDate),
	}

	text := bytes.TrimSpace([]byte(row.Predictions))
	switch {
	case len(text) == 0:
	case json.Valid(text):
		rec.Predictions = json.RawMessage(text)
	default:
		logger.Warn("Error parsing predictions for record", map[string]interface{}{
			"history_id": row.ID,
		})
		rec.ConditionCount = 0
	}
	return rec
}
