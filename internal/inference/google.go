package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
)

// GoogleConfig holds configuration for the Vertex AI backend.
type GoogleConfig struct {
	ProjectID       string
	Location        string
	CredentialsFile string
	Model           string
}

// GoogleBackend runs inference against a Vertex AI vision model
// directly, as an alternative to the hosted food-analysis endpoint.
type GoogleBackend struct {
	config GoogleConfig
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGoogleBackend creates an unloaded Vertex AI backend.
func NewGoogleBackend(config GoogleConfig) *GoogleBackend {
	if config.Model == "" {
		config.Model = "gemini-pro-vision"
	}
	return &GoogleBackend{config: config}
}

// Load initializes the Vertex AI client.
func (b *GoogleBackend) Load(ctx context.Context) error {
	opts := []option.ClientOption{}
	if b.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(b.config.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, b.config.ProjectID, b.config.Location, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	b.client = client
	b.model = client.GenerativeModel(b.config.Model)
	return nil
}

const foodPrompt = `Analyze this photo of a meal and estimate its nutritional content.

Format the response as a JSON object with exactly one of "error" or "success" populated.
If the photo does not show food, raise an error explaining what went wrong.
{
	"error": {
		"error_reason": "string",
		"suggestion_for_better_results": "string"
	},
	"success": {
		"name": "short display name of the food",
		"calories": number,
		"protein": number,
		"carbs": number,
		"fat": number,
		"fiber": number,
		"sugar": number
	}
}`

// Infer runs one estimate through the generative model and parses its
// JSON reply into a Result.
func (b *GoogleBackend) Infer(ctx context.Context, req Request) (*Result, error) {
	if b.model == nil {
		return nil, fmt.Errorf("model not loaded")
	}

	img := genai.ImageData("image/jpeg", req.ImageData)

	resp, err := b.model.GenerateContent(ctx, genai.Text(foodPrompt), img)
	if err != nil {
		return nil, fmt.Errorf("failed to call ai: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no response generated", ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no content in response", ErrInvalidResponse)
	}

	// Models tend to wrap the reply in a markdown code fence.
	textContent := fmt.Sprintf("%v", candidate.Content.Parts[0])
	textContent = strings.TrimSpace(textContent)
	textContent = strings.TrimPrefix(textContent, "```json")
	textContent = strings.TrimPrefix(textContent, "```")
	textContent = strings.TrimSuffix(textContent, "```")
	textContent = strings.TrimSpace(textContent)

	var output struct {
		Error struct {
			ErrorReason string `json:"error_reason"`
			Suggestion  string `json:"suggestion_for_better_results"`
		} `json:"error"`
		Success struct {
			Name     string     `json:"name"`
			Calories looseFloat `json:"calories"`
			Protein  looseFloat `json:"protein"`
			Carbs    looseFloat `json:"carbs"`
			Fat      looseFloat `json:"fat"`
			Fiber    looseFloat `json:"fiber"`
			Sugar    looseFloat `json:"sugar"`
		} `json:"success"`
	}
	if err := json.Unmarshal([]byte(textContent), &output); err != nil {
		return nil, fmt.Errorf("%w: %v while parsing %q", ErrInvalidResponse, err, textContent)
	}

	if output.Error.ErrorReason != "" {
		return nil, fmt.Errorf("model rejected image: %s; suggestion: %s",
			output.Error.ErrorReason, output.Error.Suggestion)
	}
	if strings.TrimSpace(output.Success.Name) == "" {
		return nil, fmt.Errorf("%w: missing food name", ErrInvalidResponse)
	}

	return &Result{
		Name:     output.Success.Name,
		Calories: float64(output.Success.Calories),
		Protein:  float64(output.Success.Protein),
		Carbs:    float64(output.Success.Carbs),
		Fat:      float64(output.Success.Fat),
		Fiber:    float64(output.Success.Fiber),
		Sugar:    float64(output.Success.Sugar),
	}, nil
}
