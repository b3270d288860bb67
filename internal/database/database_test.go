package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mealsnap/mealsnap/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleItem(id, userID string) *models.FoodItem {
	return &models.FoodItem{
		ID:        id,
		UserID:    userID,
		Name:      "Avocado Toast",
		Calories:  350,
		Protein:   9,
		Carbs:     38,
		Fat:       18,
		Fiber:     9,
		Sugar:     3,
		Source:    models.SourceInference,
		MealType:  models.MealBreakfast,
		Quantity:  1,
		Notes:     "extra chili flakes",
		ImageData: []byte{0xFF, 0xD8, 0xFF},
	}
}

func TestSaveAndGetFoodItem(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item := sampleItem("id-1", "user-1")
	require.NoError(t, db.SaveFoodItem(ctx, item))

	got, err := db.GetFoodItem(ctx, "id-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, item.UserID, got.UserID)
	assert.Equal(t, item.Name, got.Name)
	assert.Equal(t, item.Calories, got.Calories)
	assert.Equal(t, item.Fiber, got.Fiber)
	assert.Equal(t, models.SourceInference, got.Source)
	assert.Equal(t, models.MealBreakfast, got.MealType)
	assert.Equal(t, item.Notes, got.Notes)
	assert.Equal(t, item.ImageData, got.ImageData)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetFoodItemMissing(t *testing.T) {
	db := newTestDB(t)

	got, err := db.GetFoodItem(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveFoodItemUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item := sampleItem("id-1", "user-1")
	require.NoError(t, db.SaveFoodItem(ctx, item))

	item.Name = "Avocado Toast (2 slices)"
	item.Quantity = 2
	require.NoError(t, db.SaveFoodItem(ctx, item))

	got, err := db.GetFoodItem(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "Avocado Toast (2 slices)", got.Name)
	assert.Equal(t, 2.0, got.Quantity)
}

func TestGetRecentFoodItemsFiltersByUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		item := sampleItem(id, "user-1")
		item.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, db.SaveFoodItem(ctx, item))
	}
	require.NoError(t, db.SaveFoodItem(ctx, sampleItem("other", "user-2")))

	items, err := db.GetRecentFoodItems(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "c", items[0].ID, "newest first")

	limited, err := db.GetRecentFoodItems(ctx, "user-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestGetFoodItemCorruptTimestamp(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveFoodItem(ctx, sampleItem("id-1", "user-1")))
	_, err := db.db.ExecContext(ctx, "UPDATE food_analyses SET created_at = 'garbage' WHERE id = ?", "id-1")
	require.NoError(t, err)

	got, err := db.GetFoodItem(ctx, "id-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created_at")
	assert.Nil(t, got)
}

func TestDeleteFoodItem(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveFoodItem(ctx, sampleItem("id-1", "user-1")))
	require.NoError(t, db.DeleteFoodItem(ctx, "id-1"))

	got, err := db.GetFoodItem(ctx, "id-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
