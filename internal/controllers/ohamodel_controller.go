package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	apperr "github.com/gyasca/alibaba-hack-2025-backend/internal/errors"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/logger"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/metrics"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/services"
)

const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "oha_session"
)

// OhaModelDeps are the collaborators of the predict and chat handlers.
type OhaModelDeps struct {
	Store     services.ObjectStore
	KeyPrefix string
	Runtime   services.DetectionRuntime
	Relay     services.ChatRelay
	Calls     *services.TrackedRelay // optional, backs the call log endpoints
	Sessions  *services.SessionStore
	Metrics   *metrics.Metrics // optional

	MaxUploadBytes         int64
	CleanupOrphanedUploads bool

	Now func() time.Time
}

type OhaModelController struct {
	deps OhaModelDeps
}

func NewOhaModelController(deps OhaModelDeps) *OhaModelController {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &OhaModelController{deps: deps}
}

type PredictResponse struct {
	Predictions    interface{} `json:"predictions"`
	ImageURL       string      `json:"image_url"`
	ConditionCount int         `json:"condition_count"`
}

func (oc *OhaModelController) observe(service string, start time.Time, err error) {
	if oc.deps.Metrics != nil {
		oc.deps.Metrics.ObserveUpstream(service, time.Since(start).Seconds(), err)
	}
}

// Predict stores the uploaded image and runs detection on it.
func (oc *OhaModelController) Predict(c *gin.Context) {
	if oc.deps.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, oc.deps.MaxUploadBytes)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case apperr.As(err, &tooLarge):
			c.Error(apperr.Validation("ohamodel.predict", "File too large"))
		case c.Request.MultipartForm != nil && len(c.Request.MultipartForm.Value["file"]) > 0:
			// a part named "file" without a filename is parsed as a plain field
			c.Error(apperr.Validation("ohamodel.predict", "No selected file"))
		default:
			c.Error(apperr.Validation("ohamodel.predict", "No file part"))
		}
		return
	}
	if fh.Filename == "" {
		c.Error(apperr.Validation("ohamodel.predict", "No selected file"))
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.Error(apperr.Validation("ohamodel.predict", "No file part"))
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		c.Error(err)
		return
	}

	logger.Debug("Received file", map[string]interface{}{
		"filename": fh.Filename,
		"size":     len(data),
	})

	ctx := c.Request.Context()

	start := time.Now()
	key, imageURL, err := services.UploadImage(ctx, oc.deps.Store, oc.deps.KeyPrefix, fh.Filename, data, oc.deps.Now())
	oc.observe(metrics.ServiceObjectStore, start, err)
	if err != nil {
		c.Error(apperr.Upstream("ohamodel.predict", "Failed to upload to OSS", err))
		return
	}

	start = time.Now()
	dets, err := oc.infer(c, data)
	oc.observe(metrics.ServiceDetection, start, err)
	if err != nil {
		logger.WithError(err, "ohamodel").Error("Model inference error")
		if oc.deps.CleanupOrphanedUploads {
			oc.removeOrphan(c, key)
		}
		c.Error(apperr.Upstream("ohamodel.predict", "Failed to process image with model", err))
		return
	}

	records := services.ToRecords(dets)
	if oc.deps.Metrics != nil {
		oc.deps.Metrics.AddDetections(len(records))
	}

	c.JSON(http.StatusOK, PredictResponse{
		Predictions:    records,
		ImageURL:       imageURL,
		ConditionCount: len(records),
	})
}

func (oc *OhaModelController) infer(c *gin.Context, data []byte) ([]services.Detection, error) {
	img, err := services.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return oc.deps.Runtime.Infer(c.Request.Context(), img)
}

func (oc *OhaModelController) removeOrphan(c *gin.Context, key string) {
	if err := oc.deps.Store.Delete(c.Request.Context(), key); err != nil {
		logger.WithError(err, "ohamodel").WithField("key", key).Warn("Failed to delete orphaned upload")
		return
	}
	logger.Info("Deleted orphaned upload", map[string]interface{}{"key": key})
}

// requestToken reads the session token from the header, then the cookie.
func requestToken(c *gin.Context) string {
	token := strings.TrimSpace(c.GetHeader(SessionHeader))
	if token == "" {
		if v, err := c.Cookie(SessionCookie); err == nil {
			token = strings.TrimSpace(v)
		}
	}
	return token
}

// sessionToken returns the caller's chat session token, minting one if absent.
func (oc *OhaModelController) sessionToken(c *gin.Context) string {
	token := requestToken(c)
	if token == "" {
		token = oc.deps.Sessions.NewToken()
	}
	c.Header(SessionHeader, token)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, int(oc.deps.Sessions.TTL().Seconds()), "/", "", false, true)
	return token
}

func stringField(body map[string]json.RawMessage, name string) (string, error) {
	raw, ok := body[name]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", apperr.Validation("ohamodel.chat", name+" must be a string")
	}
	return strings.TrimSpace(s), nil
}

func readChatRequest(c *gin.Context) (services.ChatRequest, error) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return services.ChatRequest{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return services.ChatRequest{}, apperr.Validation("ohamodel.chat", "Request body is empty")
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return services.ChatRequest{}, apperr.Validation("ohamodel.chat", "Invalid JSON body")
	}
	if len(body) == 0 {
		return services.ChatRequest{}, apperr.Validation("ohamodel.chat", "Request body is empty")
	}

	var req services.ChatRequest
	fields := []struct {
		name string
		dst  *string
	}{
		{"instruction", &req.Instruction},
		{"results", &req.Results},
		{"message", &req.Message},
		{"chat_history", &req.ChatHistory},
	}
	for _, f := range fields {
		v, err := stringField(body, f.name)
		if err != nil {
			return services.ChatRequest{}, err
		}
		*f.dst = v
	}
	return req, nil
}

// Chat forwards the conversation to the chat relay and returns its reply verbatim.
func (oc *OhaModelController) Chat(c *gin.Context) {
	req, err := readChatRequest(c)
	if err != nil {
		c.Error(err)
		return
	}

	token := oc.sessionToken(c)
	if req.StartsConsultation() {
		oc.deps.Sessions.Put(token, services.ChatContext{
			Instruction: req.Instruction,
			Results:     req.Results,
		})
	}

	start := time.Now()
	reply, err := oc.deps.Relay.Complete(c.Request.Context(), services.BuildChatMessages(req), services.ChatTemperature, services.ChatMaxTokens)
	oc.observe(metrics.ServiceChat, start, err)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindUpstream {
			err = apperr.Upstream("ohamodel.chat", "", err)
		}
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"response": reply})
}

// ChatSession returns the instruction/results cached for the caller's session.
func (oc *OhaModelController) ChatSession(c *gin.Context) {
	cc, ok := oc.deps.Sessions.Get(requestToken(c))
	if !ok {
		c.Error(apperr.NotFound("ohamodel.chat_session", "No chat session found"))
		return
	}
	c.JSON(http.StatusOK, cc)
}

// EndChatSession forgets the caller's consultation context.
func (oc *OhaModelController) EndChatSession(c *gin.Context) {
	token := requestToken(c)
	if _, ok := oc.deps.Sessions.Get(token); !ok {
		c.Error(apperr.NotFound("ohamodel.chat_session", "No chat session found"))
		return
	}
	oc.deps.Sessions.Delete(token)
	c.JSON(http.StatusOK, gin.H{"message": "Chat session ended"})
}

func (oc *OhaModelController) GetChatCalls(c *gin.Context) {
	calls := []services.ChatCall{}
	if oc.deps.Calls != nil {
		calls = oc.deps.Calls.Calls()
	}
	c.JSON(http.StatusOK, gin.H{
		"calls": calls,
		"count": len(calls),
	})
}

func (oc *OhaModelController) ClearChatCalls(c *gin.Context) {
	if oc.deps.Calls != nil {
		oc.deps.Calls.ClearCalls()
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat API call log cleared"})
}

// LegacyChat echoes the message back.
func LegacyChat(c *gin.Context) {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(apperr.Validation("chat", "Request body is empty"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "I received your message: " + body.Message})
}
