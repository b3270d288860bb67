// Package analysis coordinates the food-photo pipeline: normalize,
// check the result cache, infer with retries, and fall back to a
// synthesized estimate when inference cannot deliver.
package analysis

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mealsnap/mealsnap/internal/cache"
	"github.com/mealsnap/mealsnap/internal/imageproc"
	"github.com/mealsnap/mealsnap/internal/inference"
	"github.com/mealsnap/mealsnap/internal/models"
)

// Stage identifies where an analysis call currently is, for UI
// progress rendering.
type Stage string

const (
	StageNormalizing  Stage = "normalizing"
	StageInferring    Stage = "inferring"
	StageSynthesizing Stage = "synthesizing"
	StageDone         Stage = "done"
)

// ProgressFunc receives progress events during Analyze. It may be
// called from a timer goroutine, so implementations must be safe for
// concurrent use. A nil ProgressFunc disables signaling.
type ProgressFunc func(stage Stage, percent int)

const inferenceMidpointAfter = 2 * time.Second

// Analyzer owns one pipeline instance. The cache is injected rather
// than package-global so independent analyzers stay isolated.
type Analyzer struct {
	client *inference.Client
	cache  *cache.Cache
}

// New creates an analyzer around the given inference client and cache.
func New(client *inference.Client, results *cache.Cache) *Analyzer {
	return &Analyzer{client: client, cache: results}
}

// Analyze turns a raw photo into a food item. It returns an error only
// for imageproc.ErrUnsupportedFormat and imageproc.ErrImageTooDegraded;
// every inference-layer failure, including ctx expiring mid-attempt, is
// absorbed by synthesizing a fallback estimate, so the caller never
// dead-ends on a usable photo.
func (a *Analyzer) Analyze(ctx context.Context, raw imageproc.RawImage, userID string, profile imageproc.Profile, progress ProgressFunc) (*models.FoodItem, error) {
	emit(progress, StageNormalizing, 10)

	img, err := imageproc.Normalize(raw, profile)
	if err != nil {
		return nil, err
	}

	fp := cache.Fingerprint(img.Data)
	if item, ok := a.cache.Get(fp); ok {
		emit(progress, StageDone, 100)
		return item, nil
	}

	emit(progress, StageInferring, 35)

	// Slow attempts still deserve a midpoint signal so the UI does not
	// look stalled. The mutex keeps the timer's emit strictly before
	// any event sent after inference returns.
	var mu sync.Mutex
	inferSettled := false
	midpoint := time.AfterFunc(inferenceMidpointAfter, func() {
		mu.Lock()
		defer mu.Unlock()
		if !inferSettled {
			emit(progress, StageInferring, 65)
		}
	})
	result, inferErr := a.client.Infer(ctx, inference.Request{
		ImageData: img.Data,
		UserID:    userID,
	})
	mu.Lock()
	inferSettled = true
	mu.Unlock()
	midpoint.Stop()

	var item *models.FoodItem
	if inferErr != nil {
		if !errors.Is(inferErr, inference.ErrUnavailable) && !errors.Is(inferErr, inference.ErrAccessDenied) {
			log.Printf("unexpected inference error kind: %v", inferErr)
		}
		log.Printf("inference failed for user %s, synthesizing fallback: %v", userID, inferErr)
		emit(progress, StageSynthesizing, 85)
		item = synthesize(img, userID)
	} else {
		item = newFoodItem(result, img, userID)
	}

	a.cache.Put(fp, item)
	emit(progress, StageDone, 100)
	return item, nil
}

// newFoodItem builds the canonical record from a live inference result.
func newFoodItem(res *inference.Result, img *imageproc.Normalized, userID string) *models.FoodItem {
	now := time.Now()
	return &models.FoodItem{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      res.Name,
		Calories:  nonNegative(res.Calories),
		Protein:   nonNegative(res.Protein),
		Carbs:     nonNegative(res.Carbs),
		Fat:       nonNegative(res.Fat),
		Fiber:     nonNegative(res.Fiber),
		Sugar:     nonNegative(res.Sugar),
		Source:    models.SourceInference,
		MealType:  models.MealLunch,
		Quantity:  1,
		ImageData: img.Data,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func emit(progress ProgressFunc, stage Stage, percent int) {
	if progress != nil {
		progress(stage, percent)
	}
}
