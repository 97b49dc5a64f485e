package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gyasca/alibaba-hack-2025-backend/internal/config"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/db"
	apperr "github.com/gyasca/alibaba-hack-2025-backend/internal/errors"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(config.DatabaseConfig{Type: "sqlite", URL: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func TestNormalizePredictions(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantText  string
		wantCount int
		wantErr   bool
	}{
		{"list", `[{"pred_class":1}, {"pred_class":2}]`, `[{"pred_class":1},{"pred_class":2}]`, 2, false},
		{"empty list", `[]`, `[]`, 0, false},
		{"object counts zero", `{"pred_class":1}`, `{"pred_class":1}`, 0, false},
		{"number counts zero", `42`, `42`, 0, false},
		{"pre-serialized list counts zero", `"[{\"pred_class\":1}]"`, `[{"pred_class":1}]`, 0, false},
		{"pre-serialized garbage", `"not json"`, "", 0, true},
		{"empty", ``, "", 0, true},
		{"invalid json", `[1,`, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, count, err := NormalizePredictions(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
				assert.Equal(t, "Invalid predictions format", apperr.PublicMessage(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantCount, count)
		})
	}
}

func TestHistorySaveAndList(t *testing.T) {
	svc := NewHistoryService(newTestDB(t))
	ctx := context.Background()

	preds := `[{"pred_class":1,"confidence":0.9,"x_center":10,"y_center":10,"width":5,"height":5}]`
	text, count, err := NormalizePredictions(json.RawMessage(preds))
	require.NoError(t, err)

	row, err := svc.Save(ctx, SaveInput{UserID: 7, ImageURL: "https://x/y.jpg", Predictions: text, ConditionCount: count})
	require.NoError(t, err)
	assert.NotZero(t, row.ID)

	rows, err := svc.ListByUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rec := ToHistoryRecord(rows[0])
	assert.Equal(t, row.ID, rec.ID)
	assert.Equal(t, int64(7), rec.UserID)
	assert.Equal(t, "https://x/y.jpg", rec.ImageURL)
	assert.Equal(t, 1, rec.ConditionCount)
	assert.JSONEq(t, preds, string(rec.Predictions))

	other, err := svc.ListByUser(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestHistoryListOrdering(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewHistoryService(gdb)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{2 * time.Hour, 0, 5 * time.Hour, time.Hour} {
		require.NoError(t, gdb.Create(&models.AnalysisHistory{
			UserID:            3,
			OriginalImagePath: "https://x/img.jpg",
			Predictions:       "[]",
			AnalysisDate:      base.Add(offset),
		}).Error)
	}

	rows, err := svc.ListByUser(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for i := 1; i < len(rows); i++ {
		assert.False(t, rows[i].AnalysisDate.After(rows[i-1].AnalysisDate),
			"row %d is newer than row %d", i, i-1)
	}
	assert.True(t, rows[0].AnalysisDate.Equal(base.Add(5*time.Hour)))
}

func TestToHistoryRecordCorruptPredictions(t *testing.T) {
	row := models.AnalysisHistory{
		ID:             4,
		UserID:         1,
		Predictions:    "{not json",
		ConditionCount: 3,
		AnalysisDate:   time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC),
	}

	rec := ToHistoryRecord(row)
	assert.Equal(t, "[]", string(rec.Predictions))
	assert.Equal(t, 0, rec.ConditionCount)
	assert.Equal(t, "2025-02-03T04:05:06", rec.AnalysisDate)

	row.Predictions = ""
	rec = ToHistoryRecord(row)
	assert.Equal(t, "[]", string(rec.Predictions))
	assert.Equal(t, 3, rec.ConditionCount)
}

func TestHistoryDelete(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewHistoryService(gdb)
	ctx := context.Background()

	count := func() int64 {
		var n int64
		require.NoError(t, gdb.Model(&models.AnalysisHistory{}).Count(&n).Error)
		return n
	}

	row, err := svc.Save(ctx, SaveInput{UserID: 1, ImageURL: "u", Predictions: "[]"})
	require.NoError(t, err)
	before := count()

	err = svc.Delete(ctx, row.ID+100)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, "History record not found", apperr.PublicMessage(err))
	assert.Equal(t, before, count())

	require.NoError(t, svc.Delete(ctx, row.ID))
	assert.Equal(t, before-1, count())

	err = svc.Delete(ctx, row.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestHistorySaveStorageFailure(t *testing.T) {
	gdb := newTestDB(t)
	require.NoError(t, gdb.Migrator().DropTable(&models.AnalysisHistory{}))

	_, err := NewHistoryService(gdb).Save(context.Background(), SaveInput{UserID: 1, ImageURL: "u", Predictions: "[]"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
	assert.Equal(t, "Failed to save to database", apperr.PublicMessage(err))
}

func TestFormatAnalysisDate(t *testing.T) {
	tests := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC), "2025-02-03T04:05:06"},
		{time.Date(2025, 2, 3, 4, 5, 6, 123400000, time.UTC), "2025-02-03T04:05:06.123400"},
		{time.Date(2025, 2, 3, 4, 5, 6, 999, time.UTC), "2025-02-03T04:05:06"},
		{time.Date(2025, 2, 3, 12, 5, 6, 0, time.FixedZone("SGT", 8*3600)), "2025-02-03T04:05:06"},
	}
	for _, tt := range tests {
		got := formatAnalysisDate(tt.in)
		assert.Equal(t, tt.want, got)

		parsed, err := time.Parse(AnalysisDateLayout, got)
		require.NoError(t, err)
		assert.True(t, parsed.Equal(tt.in.UTC().Truncate(time.Microsecond)), got)
	}
}
