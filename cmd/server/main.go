package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/mealsnap/mealsnap/internal/analysis"
	"github.com/mealsnap/mealsnap/internal/cache"
	"github.com/mealsnap/mealsnap/internal/config"
	"github.com/mealsnap/mealsnap/internal/database"
	"github.com/mealsnap/mealsnap/internal/inference"
	"github.com/mealsnap/mealsnap/internal/server"
)

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize database
	db, err := database.NewSQLiteDB(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	// Initialize inference backend
	backend, err := inference.NewBackend(inference.BackendConfig{
		Type: cfg.Inference.Type,
		HTTP: inference.HTTPConfig{
			Endpoint: cfg.Inference.Endpoint,
			APIKey:   cfg.Inference.APIKey,
		},
		Google: inference.GoogleConfig{
			ProjectID:       cfg.Inference.ProjectID,
			Location:        cfg.Inference.Location,
			CredentialsFile: cfg.Inference.CredentialsFile,
			Model:           cfg.Inference.Model,
		},
	})
	if err != nil {
		log.Fatal("Failed to create inference backend:", err)
	}

	if err := backend.Load(context.Background()); err != nil {
		log.Fatal("Failed to load inference backend:", err)
	}

	client := inference.NewClient(backend,
		inference.WithMaxAttempts(cfg.Inference.MaxAttempts),
		inference.WithInitialBackoff(time.Duration(cfg.Inference.InitialBackoffMS)*time.Millisecond),
	)

	// Assemble the analysis pipeline
	results := cache.New(time.Duration(cfg.Analysis.CacheTTLHours) * time.Hour)
	analyzer := analysis.New(client, results)

	// Initialize and start server
	deadline := time.Duration(cfg.Analysis.DeadlineMS) * time.Millisecond
	srv := server.New(db, analyzer, deadline, cfg.Server.Debug)
	if err := srv.Start(cfg.Server.Port, cfg.Server.StaticDir); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
