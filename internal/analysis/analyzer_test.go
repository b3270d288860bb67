package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/mealsnap/mealsnap/internal/cache"
	"github.com/mealsnap/mealsnap/internal/imageproc"
	"github.com/mealsnap/mealsnap/internal/inference"
	"github.com/mealsnap/mealsnap/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPhoto returns a noisy 800x600 JPEG that survives normalization.
func testPhoto(t *testing.T) imageproc.RawImage {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	img := image.NewNRGBA(image.Rect(0, 0, 800, 600))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return imageproc.RawImage{Data: buf.Bytes(), MIME: "image/jpeg"}
}

// countingBackend fails failures times, then returns result.
type countingBackend struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	result   inference.Result
}

func (b *countingBackend) Load(ctx context.Context) error { return nil }

func (b *countingBackend) Infer(ctx context.Context, req inference.Request) (*inference.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.failures {
		if b.err != nil {
			return nil, b.err
		}
		return nil, fmt.Errorf("attempt %d failed", b.calls)
	}
	res := b.result
	return &res, nil
}

func (b *countingBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// blockingBackend hangs until the context is done.
type blockingBackend struct{}

func (blockingBackend) Load(ctx context.Context) error { return nil }

func (blockingBackend) Infer(ctx context.Context, req inference.Request) (*inference.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newAnalyzer(backend inference.Backend) *Analyzer {
	client := inference.NewClient(backend, inference.WithInitialBackoff(time.Millisecond))
	return New(client, cache.New(cache.DefaultTTL))
}

func TestAnalyzeSuccess(t *testing.T) {
	backend := &countingBackend{result: inference.Result{
		Name: "Margherita Pizza", Calories: 850, Protein: 32, Carbs: 95, Fat: 35, Fiber: 5, Sugar: 7,
	}}
	analyzer := newAnalyzer(backend)

	item, err := analyzer.Analyze(context.Background(), testPhoto(t), "user-1", imageproc.DefaultProfile, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "user-1", item.UserID)
	assert.Equal(t, "Margherita Pizza", item.Name)
	assert.Equal(t, 850.0, item.Calories)
	assert.Equal(t, models.SourceInference, item.Source)
	assert.Equal(t, models.MealLunch, item.MealType)
	assert.NotEmpty(t, item.ImageData)
	assert.False(t, item.CreatedAt.IsZero())
}

func TestAnalyzeRetryCount(t *testing.T) {
	backend := &countingBackend{failures: 2, result: inference.Result{Name: "Soup", Calories: 200}}
	analyzer := newAnalyzer(backend)

	item, err := analyzer.Analyze(context.Background(), testPhoto(t), "user-1", imageproc.DefaultProfile, nil)
	require.NoError(t, err)
	assert.Equal(t, "Soup", item.Name)
	assert.Equal(t, models.SourceInference, item.Source)
	assert.Equal(t, 3, backend.callCount())
}

func TestAnalyzeCacheIdempotence(t *testing.T) {
	backend := &countingBackend{result: inference.Result{Name: "Burrito", Calories: 700}}
	analyzer := newAnalyzer(backend)
	photo := testPhoto(t)

	first, err := analyzer.Analyze(context.Background(), photo, "user-1", imageproc.DefaultProfile, nil)
	require.NoError(t, err)

	second, err := analyzer.Analyze(context.Background(), photo, "user-1", imageproc.DefaultProfile, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Name, second.Name)
	assert.Equal(t, first.Calories, second.Calories)
	assert.Equal(t, 1, backend.callCount(), "identical upload must not trigger a second inference")
}

func TestAnalyzeFallbackWhenExhausted(t *testing.T) {
	backend := &countingBackend{failures: 1_000_000}
	analyzer := newAnalyzer(backend)

	item, err := analyzer.Analyze(context.Background(), testPhoto(t), "user-1", imageproc.DefaultProfile, nil)
	require.NoError(t, err, "inference failures must never surface from Analyze")

	assert.Equal(t, models.SourceFallback, item.Source)
	assert.Equal(t, "Mixed Meal", item.Name)
	assert.Greater(t, item.Calories, 0.0, "fallback must not pretend the food has zero calories")
	assert.Greater(t, item.Protein, 0.0)
	assert.Greater(t, item.Carbs, 0.0)
	assert.Greater(t, item.Fat, 0.0)
	assert.NotEmpty(t, item.ImageData, "user's photo stays attached")
	assert.Equal(t, 3, backend.callCount())
}

func TestAnalyzeAccessDeniedFallsBack(t *testing.T) {
	backend := &countingBackend{
		failures: 1_000_000,
		err:      fmt.Errorf("%w: bad key", inference.ErrAccessDenied),
	}
	analyzer := newAnalyzer(backend)

	item, err := analyzer.Analyze(context.Background(), testPhoto(t), "user-1", imageproc.DefaultProfile, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SourceFallback, item.Source)
	assert.Equal(t, 1, backend.callCount(), "access denied must not burn retry budget")
}

func TestAnalyzeDeadlineFallsBack(t *testing.T) {
	analyzer := newAnalyzer(blockingBackend{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	item, err := analyzer.Analyze(ctx, testPhoto(t), "user-1", imageproc.DefaultProfile, nil)
	require.NoError(t, err)

	assert.Equal(t, models.SourceFallback, item.Source)
	assert.Less(t, time.Since(start), 5*time.Second, "deadline must bound worst-case latency")
}

func TestAnalyzeNormalizationErrorsPropagate(t *testing.T) {
	backend := &countingBackend{}
	analyzer := newAnalyzer(backend)

	_, err := analyzer.Analyze(context.Background(),
		imageproc.RawImage{Data: []byte("not an image"), MIME: "image/heic"},
		"user-1", imageproc.DefaultProfile, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, imageproc.ErrUnsupportedFormat))
	assert.Equal(t, 0, backend.callCount(), "bad input must never reach the inference service")
}

func TestAnalyzeProgressSignals(t *testing.T) {
	backend := &countingBackend{result: inference.Result{Name: "Toast", Calories: 150}}
	analyzer := newAnalyzer(backend)

	type event struct {
		stage   Stage
		percent int
	}
	var mu sync.Mutex
	var events []event

	_, err := analyzer.Analyze(context.Background(), testPhoto(t), "user-1", imageproc.DefaultProfile,
		func(stage Stage, percent int) {
			mu.Lock()
			events = append(events, event{stage, percent})
			mu.Unlock()
		})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, event{StageNormalizing, 10}, events[0])
	assert.Contains(t, events, event{StageInferring, 35})
	assert.Equal(t, event{StageDone, 100}, events[len(events)-1])
}

// slowBackend answers successfully after a fixed delay.
type slowBackend struct {
	delay  time.Duration
	result inference.Result
}

func (b slowBackend) Load(ctx context.Context) error { return nil }

func (b slowBackend) Infer(ctx context.Context, req inference.Request) (*inference.Result, error) {
	select {
	case <-time.After(b.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	res := b.result
	return &res, nil
}

func TestAnalyzeMidpointNeverTrailsDone(t *testing.T) {
	// Finish inference right at the midpoint timer so the two race;
	// the midpoint event must never land after the final one.
	analyzer := newAnalyzer(slowBackend{
		delay:  inferenceMidpointAfter,
		result: inference.Result{Name: "Stew", Calories: 320},
	})

	type event struct {
		stage   Stage
		percent int
	}
	var mu sync.Mutex
	var events []event

	_, err := analyzer.Analyze(context.Background(), testPhoto(t), "user-1", imageproc.DefaultProfile,
		func(stage Stage, percent int) {
			mu.Lock()
			events = append(events, event{stage, percent})
			mu.Unlock()
		})
	require.NoError(t, err)

	// Give a stray timer goroutine time to misbehave before checking.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, event{StageDone, 100}, events[len(events)-1])
	for _, e := range events[:len(events)-1] {
		assert.NotEqual(t, event{StageDone, 100}, e, "final event must be last")
	}
}

func TestAnalyzeNegativeValuesClamped(t *testing.T) {
	backend := &countingBackend{result: inference.Result{Name: "Odd Reply", Calories: -120, Protein: 10}}
	analyzer := newAnalyzer(backend)

	item, err := analyzer.Analyze(context.Background(), testPhoto(t), "user-1", imageproc.DefaultProfile, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, item.Calories)
	assert.Equal(t, 10.0, item.Protein)
}

func TestSynthesizeDeterministicShape(t *testing.T) {
	img := &imageproc.Normalized{Data: []byte("jpeg"), Width: 800, Height: 600}

	a := synthesize(img, "user-1")
	b := synthesize(img, "user-1")

	assert.NotEqual(t, a.ID, b.ID, "every record gets a fresh id")
	assert.Equal(t, a.Name, b.Name)
	assert.Equal(t, a.Calories, b.Calories)
	assert.Equal(t, models.SourceFallback, a.Source)
	assert.NotEmpty(t, a.Notes)
}
