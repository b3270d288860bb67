package analysis

import (
	"time"

	"github.com/google/uuid"
	"github.com/mealsnap/mealsnap/internal/imageproc"
	"github.com/mealsnap/mealsnap/internal/models"
)

// synthesize produces a plausible estimate when inference is exhausted.
// It never fails. The macro profile is a fixed moderate meal rather
// than zeros: an all-zero record would communicate false precision
// ("this food has 0 calories") instead of honest uncertainty. The
// photo stays attached so the user can still see what they logged.
func synthesize(img *imageproc.Normalized, userID string) *models.FoodItem {
	now := time.Now()
	return &models.FoodItem{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      "Mixed Meal",
		Calories:  450,
		Protein:   25,
		Carbs:     40,
		Fat:       15,
		Fiber:     6,
		Sugar:     8,
		Source:    models.SourceFallback,
		MealType:  models.MealLunch,
		Quantity:  1,
		Notes:     "Estimated nutrition values - analysis service unavailable",
		ImageData: img.Data,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
