package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type healthReport struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Services  struct {
		Database struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		} `json:"database"`
		Detection struct {
			Status string `json:"status"`
			Model  string `json:"model,omitempty"`
		} `json:"detection"`
		Storage struct {
			Driver string `json:"driver"`
		} `json:"storage"`
	} `json:"services"`
}

func defaultURL() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	return "http://localhost:" + port + "/health"
}

func fetch(ctx context.Context, url string) (*healthReport, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	var report healthReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("unexpected body %q: %w", body, err)
	}
	return &report, resp.StatusCode, nil
}

// problems lists what keeps the backend from serving analyses.
// The detection sidecar only counts when strict is set.
func problems(r *healthReport, code int, strict bool) []string {
	var out []string
	if code != http.StatusOK || r.Status != "ok" {
		msg := fmt.Sprintf("backend reports %q (HTTP %d)", r.Status, code)
		if r.Services.Database.Error != "" {
			msg += ": " + r.Services.Database.Error
		}
		out = append(out, msg)
	}
	if strict && r.Services.Detection.Status != "ok" {
		out = append(out, fmt.Sprintf("detection sidecar is %s", r.Services.Detection.Status))
	}
	return out
}

func main() {
	_ = godotenv.Load()

	url := flag.String("url", defaultURL(), "health endpoint of the oral health backend")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	strict := flag.Bool("strict", false, "also fail when the detection sidecar is not ready")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, code, err := fetch(ctx, *url)
	if err != nil {
		fmt.Printf("❌ %s: %v\n", *url, err)
		os.Exit(1)
	}

	fmt.Printf("🦷 Oral health backend v%s at %s\n", report.Version, *url)
	fmt.Printf("   database   %s\n", report.Services.Database.Status)
	fmt.Printf("   storage    %s\n", report.Services.Storage.Driver)
	if m := report.Services.Detection.Model; m != "" {
		fmt.Printf("   detection  %s (%s)\n", report.Services.Detection.Status, m)
	} else {
		fmt.Printf("   detection  %s\n", report.Services.Detection.Status)
	}

	if errs := problems(report, code, *strict); len(errs) > 0 {
		for _, e := range errs {
			fmt.Printf("❌ %s\n", e)
		}
		os.Exit(1)
	}
	if report.Services.Detection.Status != "ok" {
		fmt.Println("⚠️  predictions will fail until the detection sidecar is up")
	}
	fmt.Println("✅ ready")
}
