package models

import (
	"time"
)

// MealType classifies when a food item was eaten.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

// ValidMealType reports whether mt is one of the known meal types.
func ValidMealType(mt MealType) bool {
	switch mt {
	case MealBreakfast, MealLunch, MealDinner, MealSnack:
		return true
	}
	return false
}

// Source records how a food item's nutrition values were produced, so
// downstream consumers can flag estimated values.
type Source string

const (
	// SourceInference marks values returned by the vision service.
	SourceInference Source = "inference"
	// SourceFallback marks synthesized estimates used when the vision
	// service could not be reached.
	SourceFallback Source = "fallback"
)

// FoodItem is the nutrition record produced by a single analysis call.
// The analysis pipeline never mutates an item after returning it; the
// caller may amend meal type, quantity or notes before persisting.
type FoodItem struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	// Macronutrients
	Calories float64 `json:"calories"` // kcal
	Protein  float64 `json:"protein"`  // grams
	Carbs    float64 `json:"carbs"`    // grams
	Fat      float64 `json:"fat"`      // grams
	Fiber    float64 `json:"fiber"`    // grams
	Sugar    float64 `json:"sugar"`    // grams

	Source   Source   `json:"source"`
	MealType MealType `json:"meal_type"`
	Quantity float64  `json:"quantity"`
	Notes    string   `json:"notes,omitempty"`

	// ImageData holds the normalized JPEG the item was analyzed from.
	// Nil once the item has been detached from its image.
	ImageData []byte `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
