package routes

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/config"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/controllers"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/db"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/metrics"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopRuntime struct{}

func (noopRuntime) Infer(context.Context, image.Image) ([]services.Detection, error) { return nil, nil }

type echoRelay struct{}

func (echoRelay) Complete(_ context.Context, msgs []services.ChatMessage, _ float32, _ int) (string, error) {
	return msgs[len(msgs)-1].Content, nil
}

type staticModel string

func (m staticModel) Model() string { return string(m) }

func newTestRouter(t *testing.T, authRequired bool) *gin.Engine {
	t.Helper()
	return newTestRouterWithModel(t, authRequired, staticModel("best.pt"))
}

func newTestRouterWithModel(t *testing.T, authRequired bool, model controllers.ModelReporter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		CORSOrigin:   "*",
		UploadMax:    1 << 20,
		Storage:      config.StorageConfig{Driver: "local", Prefix: "oha"},
		JWTSecret:    "secret",
		AuthRequired: authRequired,
	}

	gdb, err := db.Connect(config.DatabaseConfig{Type: "sqlite", URL: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	store, err := services.NewLocalStore(t.TempDir(), "http://localhost:8080/uploads")
	require.NoError(t, err)
	sessions := services.NewSessionStore(time.Minute)
	m, err := metrics.New(sessions.Len)
	require.NoError(t, err)

	return NewRouter(cfg, Deps{
		DB:       gdb,
		Store:    store,
		Runtime:  noopRuntime{},
		Model:    model,
		Relay:    services.NewTrackedRelay(echoRelay{}),
		Sessions: sessions,
		Metrics:  m,
	})
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   string `json:"status"`
		Services struct {
			Database  struct{ Status string } `json:"database"`
			Detection struct {
				Status string `json:"status"`
				Model  string `json:"model"`
			} `json:"detection"`
			Storage struct{ Driver string } `json:"storage"`
		} `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Services.Database.Status)
	assert.Equal(t, "best.pt", body.Services.Detection.Model)
	assert.Equal(t, "local", body.Services.Storage.Driver)
}

func TestRouteTable(t *testing.T) {
	r := newTestRouter(t, false)

	want := []string{
		"GET /health",
		"GET /metrics",
		"POST /chat",
		"POST /ohamodel/predict",
		"POST /ohamodel/chat",
		"GET /ohamodel/chat/session",
		"DELETE /ohamodel/chat/session",
		"GET /ohamodel/chat/calls",
		"DELETE /ohamodel/chat/calls",
		"POST /history/oha/save-results",
		"GET /history/oha/get-history",
		"DELETE /history/oha/delete-result",
		"GET /uploads/*filepath",
	}
	var got []string
	for _, ri := range r.Routes() {
		got = append(got, ri.Method+" "+ri.Path)
	}
	for _, w := range want {
		assert.Contains(t, got, w)
	}
}

func TestChatThroughRouter(t *testing.T) {
	r := newTestRouter(t, false)

	req := httptest.NewRequest(http.MethodPost, "/ohamodel/chat", strings.NewReader(`{"message": "hello"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response": "\n\nhello"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="POST",path="/ohamodel/chat",status_code="200"} 1`)
}

func TestAuthRequired(t *testing.T) {
	r := newTestRouter(t, true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history/oha/get-history?user_id=1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/ohamodel/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestChatCallsRequireToken(t *testing.T) {
	r := newTestRouter(t, false)

	req := httptest.NewRequest(http.MethodPost, "/ohamodel/chat",
		strings.NewReader(`{"instruction": "explain", "results": "patient 7: 3 caries", "message": "bad?"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, "/ohamodel/chat/calls", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, method)
		assert.NotContains(t, rec.Body.String(), "caries", method)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 1,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/ohamodel/chat/calls", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

// lateModel reports no model until its backend comes up.
type lateModel struct {
	up    bool
	model string
}

func (m *lateModel) Model() string { return m.model }

func (m *lateModel) Load(context.Context) error {
	if !m.up {
		return errors.New("unreachable")
	}
	m.model = "best.pt"
	return nil
}

func TestHealthRechecksDetection(t *testing.T) {
	model := &lateModel{}
	r := newTestRouterWithModel(t, false, model)

	detection := func() map[string]interface{} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Services struct {
				Detection map[string]interface{} `json:"detection"`
			} `json:"services"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body.Services.Detection
	}

	assert.Equal(t, "unavailable", detection()["status"])

	model.up = true
	got := detection()
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, "best.pt", got["model"])
}
