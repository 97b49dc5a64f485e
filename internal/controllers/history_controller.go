package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	apperr "github.com/gyasca/alibaba-hack-2025-backend/internal/errors"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/logger"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/metrics"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/models"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/services"
)

type HistoryController struct {
	history *services.HistoryService
	metrics *metrics.Metrics
}

// NewHistoryController wires the handlers; m may be nil.
func NewHistoryController(history *services.HistoryService, m *metrics.Metrics) *HistoryController {
	return &HistoryController{history: history, metrics: m}
}

// observe records a database round trip. Lookups that find nothing still succeeded.
func (hc *HistoryController) observe(start time.Time, err error) {
	if hc.metrics == nil {
		return
	}
	if apperr.KindOf(err) != apperr.KindStorage {
		err = nil
	}
	hc.metrics.ObserveUpstream(metrics.ServiceDatabase, time.Since(start).Seconds(), err)
}

var saveRequiredFields = []string{"user_id", "image_url", "predictions"}

// parseUserID accepts a JSON number or a numeric string.
func parseUserID(raw json.RawMessage) (int64, error) {
	invalid := apperr.Validation("history.save", "Invalid user_id format")

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, invalid
	}
	switch t := v.(type) {
	case json.Number:
		n = t
	case string:
		n = json.Number(strings.TrimSpace(t))
	default:
		return 0, invalid
	}
	id, err := n.Int64()
	if err != nil {
		return 0, invalid
	}
	return id, nil
}

// SaveResults persists one analysis for a user.
func (hc *HistoryController) SaveResults(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Error(err)
		return
	}

	var body map[string]json.RawMessage
	if len(bytes.TrimSpace(raw)) == 0 || json.Unmarshal(raw, &body) != nil || len(body) == 0 {
		logger.Debug("No data provided in request", nil)
		c.Error(apperr.Validation("history.save", "No data provided"))
		return
	}

	var missing []string
	for _, f := range saveRequiredFields {
		if _, ok := body[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		c.Error(apperr.Validation("history.save", "Missing required fields: "+strings.Join(missing, ", ")))
		return
	}

	userID, err := parseUserID(body["user_id"])
	if err != nil {
		c.Error(err)
		return
	}

	var imageURL string
	if err := json.Unmarshal(body["image_url"], &imageURL); err != nil {
		c.Error(apperr.Validation("history.save", "image_url must be a string"))
		return
	}

	predictions, count, err := services.NormalizePredictions(body["predictions"])
	if err != nil {
		c.Error(err)
		return
	}

	start := time.Now()
	row, err := hc.history.Save(c.Request.Context(), services.SaveInput{
		UserID:         userID,
		ImageURL:       imageURL,
		Predictions:    predictions,
		ConditionCount: count,
	})
	hc.observe(start, err)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Results saved successfully",
		"id":      row.ID,
	})
}

// GetHistory lists a user's analyses, most recent first.
func (hc *HistoryController) GetHistory(c *gin.Context) {
	rawUserID := c.Query("user_id")
	if rawUserID == "" {
		c.Error(apperr.Validation("history.list", "user_id is required"))
		return
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(rawUserID), 10, 64)
	if err != nil {
		c.Error(apperr.Validation("history.list", "Invalid user_id format"))
		return
	}

	start := time.Now()
	rows, err := hc.history.ListByUser(c.Request.Context(), userID)
	hc.observe(start, err)
	if err != nil {
		c.Error(err)
		return
	}
	logger.WithUser(userID).WithField("count", len(rows)).Debug("Fetched analysis history")

	if len(rows) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"history": []models.HistoryRecord{},
			"message": "No history found",
			"count":   0,
			"user_id": rawUserID,
		})
		return
	}

	records := make([]models.HistoryRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, services.ToHistoryRecord(row))
	}

	c.JSON(http.StatusOK, gin.H{
		"history": records,
		"count":   len(records),
		"user_id": rawUserID,
	})
}

// DeleteHistory removes one analysis by id.
func (hc *HistoryController) DeleteHistory(c *gin.Context) {
	rawID := c.Query("id")
	if rawID == "" {
		c.Error(apperr.Validation("history.delete", "id is required"))
		return
	}
	id, err := strconv.ParseUint(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		c.Error(apperr.Validation("history.delete", "Invalid id format"))
		return
	}

	start := time.Now()
	err = hc.history.Delete(c.Request.Context(), uint(id))
	hc.observe(start, err)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "History record deleted successfully"})
}
