package models

import (
	"encoding/json"
	"time"
)

// AnalysisHistory is one persisted oral health analysis. Predictions holds the
// JSON text exactly as submitted; it is re-parsed on every read.
type AnalysisHistory struct {
	ID                uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID            int64     `json:"user_id" gorm:"not null;index"`
	OriginalImagePath string    `json:"original_image_path" gorm:"type:text;not null"`
	Predictions       string    `json:"predictions" gorm:"type:text"`
	ConditionCount    int       `json:"condition_count" gorm:"not null;default:0"`
	AnalysisDate      time.Time `json:"analysis_date" gorm:"not null;index;autoCreateTime"`
}

func (AnalysisHistory) TableName() string {
	return "oral_analysis_history"
}

// DetectionRecord is one bounding box (center form) emitted by the detection runtime.
type DetectionRecord struct {
	PredClass  int     `json:"pred_class"`
	Confidence float64 `json:"confidence"`
	XCenter    float64 `json:"x_center"`
	YCenter    float64 `json:"y_center"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// HistoryRecord is the API view of an AnalysisHistory row.
type HistoryRecord struct {
	ID             uint            `json:"id"`
	UserID         int64           `json:"user_id"`
	ImageURL       string          `json:"image_url"`
	Predictions    json.RawMessage `json:"predictions"`
	ConditionCount int             `json:"condition_count"`
	AnalysisDate   string          `json:"analysis_date"`
}
