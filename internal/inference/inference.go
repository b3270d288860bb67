// Package inference estimates nutrition content from normalized food
// photos via a remote vision service, with retry and backoff.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnavailable is returned once every attempt has been exhausted.
	// It wraps the last underlying error for diagnostic surfacing.
	ErrUnavailable = errors.New("inference service unavailable")
	// ErrInvalidResponse marks a payload that cannot be interpreted as
	// a nutrition estimate. A single occurrence is a failed attempt,
	// not a terminal condition.
	ErrInvalidResponse = errors.New("invalid inference response")
	// ErrAccessDenied marks an explicit upstream refusal. It is never
	// retried; the caller should surface an actionable message instead.
	ErrAccessDenied = errors.New("inference service access denied")
)

// Request carries one normalized image to the vision service. UserID is
// used for request attribution only and is never encoded in the image.
type Request struct {
	ImageData []byte // normalized JPEG bytes
	UserID    string
}

// Result is the raw nutrition estimate as returned by a backend, before
// the orchestrator turns it into a food item.
type Result struct {
	Name     string
	Calories float64
	Protein  float64
	Carbs    float64
	Fat      float64
	Fiber    float64
	Sugar    float64
}

// Backend is a single-attempt connection to a vision service. Retry
// policy lives in Client, not here.
type Backend interface {
	// Load initializes the backend with its configuration.
	Load(ctx context.Context) error
	// Infer runs one inference attempt.
	Infer(ctx context.Context, req Request) (*Result, error)
}

// BackendConfig selects and configures a backend implementation.
type BackendConfig struct {
	Type   string // "http" (default) or "google"
	HTTP   HTTPConfig
	Google GoogleConfig
}

// NewBackend creates a backend of the configured type.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Type {
	case "", "http":
		return NewHTTPBackend(cfg.HTTP), nil
	case "google":
		return NewGoogleBackend(cfg.Google), nil
	default:
		return nil, fmt.Errorf("unsupported inference backend type: %q", cfg.Type)
	}
}

// looseFloat tolerates the numeric sloppiness of model output: numbers,
// quoted numbers, null and garbage all decode, with anything
// unparseable defaulting to 0. A missing sugar value should not
// invalidate an otherwise valid calorie estimate.
type looseFloat float64

func (f *looseFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = looseFloat(v)
	return nil
}
