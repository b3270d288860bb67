package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"time"

	"github.com/mealsnap/mealsnap/internal/models"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

// timeLayout is RFC3339 with a fixed-width fraction so stored
// timestamps sort chronologically under SQLite's text comparison.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB interface defines the methods our database should implement
type DB interface {
	SaveFoodItem(ctx context.Context, item *models.FoodItem) error
	GetFoodItem(ctx context.Context, id string) (*models.FoodItem, error)
	GetRecentFoodItems(ctx context.Context, userID string, limit int) ([]*models.FoodItem, error)
	DeleteFoodItem(ctx context.Context, id string) error
	Close() error
}

// SQLiteDB implements the DB interface
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("error enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	// Initialize database schema
	if err := initializeSchema(db); err != nil {
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

func initializeSchema(db *sql.DB) error {
	// Read schema file
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}

	// Execute schema
	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}

	log.Println("Database schema initialized successfully")
	return nil
}

// SaveFoodItem saves a confirmed food analysis to the database
func (s *SQLiteDB) SaveFoodItem(ctx context.Context, item *models.FoodItem) error {
	query := `
		INSERT INTO food_analyses (
			id, user_id, food_name, calories, protein, carbs, fat, fiber, sugar,
			source, meal_type, quantity, notes, image_data, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			food_name = excluded.food_name,
			calories = excluded.calories,
			protein = excluded.protein,
			carbs = excluded.carbs,
			fat = excluded.fat,
			fiber = excluded.fiber,
			sugar = excluded.sugar,
			source = excluded.source,
			meal_type = excluded.meal_type,
			quantity = excluded.quantity,
			notes = excluded.notes,
			image_data = excluded.image_data,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.UserID, item.Name,
		item.Calories, item.Protein, item.Carbs, item.Fat, item.Fiber, item.Sugar,
		string(item.Source), string(item.MealType), item.Quantity, item.Notes,
		item.ImageData,
		item.CreatedAt.Format(timeLayout), item.UpdatedAt.Format(timeLayout),
	)
	return err
}

// GetFoodItem retrieves one food analysis from the database
func (s *SQLiteDB) GetFoodItem(ctx context.Context, id string) (*models.FoodItem, error) {
	query := `
		SELECT id, user_id, food_name, calories, protein, carbs, fat, fiber, sugar,
			source, meal_type, quantity, notes, image_data, created_at, updated_at
		FROM food_analyses WHERE id = ?
	`

	item, err := scanFoodItem(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetRecentFoodItems retrieves the most recent analyses for a user
func (s *SQLiteDB) GetRecentFoodItems(ctx context.Context, userID string, limit int) ([]*models.FoodItem, error) {
	query := `
		SELECT id, user_id, food_name, calories, protein, carbs, fat, fiber, sugar,
			source, meal_type, quantity, notes, image_data, created_at, updated_at
		FROM food_analyses
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.FoodItem
	for rows.Next() {
		item, err := scanFoodItem(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}

	return results, rows.Err()
}

// DeleteFoodItem removes one analysis from the database
func (s *SQLiteDB) DeleteFoodItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM food_analyses WHERE id = ?", id)
	return err
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFoodItem(row scanner) (*models.FoodItem, error) {
	var item models.FoodItem
	var source, mealType, createdAt, updatedAt string
	var notes sql.NullString

	err := row.Scan(
		&item.ID, &item.UserID, &item.Name,
		&item.Calories, &item.Protein, &item.Carbs, &item.Fat, &item.Fiber, &item.Sugar,
		&source, &mealType, &item.Quantity, &notes, &item.ImageData,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Source = models.Source(source)
	item.MealType = models.MealType(mealType)
	item.Notes = notes.String

	item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	item.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &item, nil
}
