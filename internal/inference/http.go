package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPConfig holds configuration for the hosted food-analysis endpoint.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPBackend talks to the food-analysis HTTP service: POST with a JSON
// body {"image": <base64, no data-URL prefix>}, expecting
// {"success": bool, "data": {name, calories, protein, carbs, fat,
// fiber?, sugar?}}.
type HTTPBackend struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPBackend creates a backend for the configured endpoint.
func NewHTTPBackend(config HTTPConfig) *HTTPBackend {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &HTTPBackend{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Load validates the configuration.
func (b *HTTPBackend) Load(ctx context.Context) error {
	if b.config.Endpoint == "" {
		return fmt.Errorf("food-analysis endpoint is not configured")
	}
	return nil
}

// Infer runs a single analysis attempt against the remote service.
func (b *HTTPBackend) Infer(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(req.ImageData),
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.config.APIKey)
	}
	if req.UserID != "" {
		httpReq.Header.Set("X-User-ID", req.UserID)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call food-analysis service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", ErrAccessDenied, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("food-analysis service returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Data    struct {
			Name     string     `json:"name"`
			Calories looseFloat `json:"calories"`
			Protein  looseFloat `json:"protein"`
			Carbs    looseFloat `json:"carbs"`
			Fat      looseFloat `json:"fat"`
			Fiber    looseFloat `json:"fiber"`
			Sugar    looseFloat `json:"sugar"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if !parsed.Success {
		if isAccessDenied(parsed.Error) {
			return nil, fmt.Errorf("%w: %s", ErrAccessDenied, parsed.Error)
		}
		return nil, fmt.Errorf("food-analysis service reported failure: %s", parsed.Error)
	}
	if strings.TrimSpace(parsed.Data.Name) == "" {
		return nil, fmt.Errorf("%w: missing food name", ErrInvalidResponse)
	}

	return &Result{
		Name:     parsed.Data.Name,
		Calories: float64(parsed.Data.Calories),
		Protein:  float64(parsed.Data.Protein),
		Carbs:    float64(parsed.Data.Carbs),
		Fat:      float64(parsed.Data.Fat),
		Fiber:    float64(parsed.Data.Fiber),
		Sugar:    float64(parsed.Data.Sugar),
	}, nil
}

func isAccessDenied(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "access denied") ||
		strings.Contains(m, "unauthorized") ||
		strings.Contains(m, "forbidden")
}
