package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/logger"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/models"
)

// Detection is one region reported by the runtime, box in center form.
type Detection struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	XCenter    float64 `json:"x_center"`
	YCenter    float64 `json:"y_center"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// DetectionRuntime runs the object-detection model on a decoded image.
type DetectionRuntime interface {
	Infer(ctx context.Context, img image.Image) ([]Detection, error)
}

// DecodeImage decodes an upload, applying EXIF orientation.
func DecodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// ToRecords converts runtime output to detection records: one record per
// detection, no thresholding, confidence kept within [0,1].
func ToRecords(dets []Detection) []models.DetectionRecord {
	records := make([]models.DetectionRecord, 0, len(dets))
	for _, d := range dets {
		conf := d.Confidence
		if conf < 0 {
			conf = 0
		} else if conf > 1 {
			conf = 1
		}
		records = append(records, models.DetectionRecord{
			PredClass:  d.ClassID,
			Confidence: conf,
			XCenter:    d.XCenter,
			YCenter:    d.YCenter,
			Width:      d.Width,
			Height:     d.Height,
		})
	}
	return records
}

// HTTPRuntime talks to the inference sidecar that holds the model weights.
// The sidecar loads the weights once at its own start; Load confirms it is up.
type HTTPRuntime struct {
	baseURL   string
	modelPath string
	client    *http.Client

	mu    sync.RWMutex
	model string
}

func NewHTTPRuntime(baseURL, modelPath string, timeout time.Duration) *HTTPRuntime {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPRuntime{
		baseURL:   strings.TrimRight(baseURL, "/"),
		modelPath: modelPath,
		client:    &http.Client{Timeout: timeout},
	}
}

type runtimeHealth struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// Load checks the sidecar's health endpoint and records the model it serves.
func (r *HTTPRuntime) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("detection runtime unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detection runtime unhealthy: %d", resp.StatusCode)
	}

	var h runtimeHealth
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if h.Model == "" {
		h.Model = r.modelPath
	}

	r.mu.Lock()
	r.model = h.Model
	r.mu.Unlock()

	logger.WithComponent("detection_runtime").
		WithField("url", r.baseURL).
		WithField("model", h.Model).
		Info("Detection runtime ready")
	return nil
}

// Model returns the model reported by the last successful Load or Infer, or "".
func (r *HTTPRuntime) Model() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model
}

func (r *HTTPRuntime) Infer(ctx context.Context, img image.Image) ([]Detection, error) {
	var imgBuf bytes.Buffer
	if err := imaging.Encode(&imgBuf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, &imgBuf); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/predict", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(x)))
	}

	var result struct {
		Detections []Detection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	r.mu.Lock()
	if r.model == "" {
		r.model = r.modelPath
	}
	r.mu.Unlock()
	return result.Detections, nil
}

// serializedRuntime admits one inference at a time.
type serializedRuntime struct {
	mu    sync.Mutex
	inner DetectionRuntime
}

// Serialized wraps a runtime that is not safe for concurrent inference.
func Serialized(inner DetectionRuntime) DetectionRuntime {
	return &serializedRuntime{inner: inner}
}

func (s *serializedRuntime) Infer(ctx context.Context, img image.Image) ([]Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Infer(ctx, img)
}
