package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all application configuration
type Config struct {
	Server struct {
		Port      string `json:"port"`
		StaticDir string `json:"static_dir"`
		Debug     bool   `json:"debug"`
	} `json:"server"`

	Database struct {
		Path string `json:"path"`
	} `json:"database"`

	Inference struct {
		Type             string `json:"type"` // "http" or "google"
		Endpoint         string `json:"endpoint"`
		APIKey           string `json:"api_key"`
		MaxAttempts      int    `json:"max_attempts"`
		InitialBackoffMS int    `json:"initial_backoff_ms"`

		// Vertex AI settings, used when type is "google".
		ProjectID       string `json:"project_id"`
		Location        string `json:"location"`
		CredentialsFile string `json:"credentials_file"`
		Model           string `json:"model"`
	} `json:"inference"`

	Analysis struct {
		DeadlineMS    int `json:"deadline_ms"`
		CacheTTLHours int `json:"cache_ttl_hours"`
	} `json:"analysis"`
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Handle missing values
	if config.Server.Port == "" {
		// Fail if port is not set
		return nil, fmt.Errorf("server port is not set in config file")
	}
	if config.Server.StaticDir == "" {
		config.Server.StaticDir = "./static"
	}
	if config.Database.Path == "" {
		config.Database.Path = "mealsnap.db"
	}
	if config.Inference.Type == "" {
		config.Inference.Type = "http"
	}
	if config.Inference.Endpoint == "" {
		config.Inference.Endpoint = os.Getenv("MEALSNAP_FOOD_ANALYSIS_URL")
	}
	if config.Inference.APIKey == "" {
		config.Inference.APIKey = os.Getenv("MEALSNAP_FOOD_ANALYSIS_KEY")
	}
	if config.Inference.MaxAttempts <= 0 {
		config.Inference.MaxAttempts = 3
	}
	if config.Inference.InitialBackoffMS <= 0 {
		config.Inference.InitialBackoffMS = 1000
	}
	if config.Analysis.DeadlineMS <= 0 {
		config.Analysis.DeadlineMS = 90_000
	}
	if config.Analysis.CacheTTLHours <= 0 {
		config.Analysis.CacheTTLHours = 24
	}

	return &config, nil
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv("MEALSNAP_CONFIG"); path != "" {
		return path
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.json")
	}

	// Finally, try current directory
	return "config.json"
}
