package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/mealsnap/mealsnap/internal/analysis"
	"github.com/mealsnap/mealsnap/internal/database"
	"github.com/mealsnap/mealsnap/internal/imageproc"
	"github.com/mealsnap/mealsnap/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, this should be more restrictive
	},
}

type Server struct {
	db       database.DB
	analyzer *analysis.Analyzer
	deadline time.Duration
	pending  sync.Map // item id -> *models.FoodItem awaiting confirmation
	debug    bool
}

func New(db database.DB, analyzer *analysis.Analyzer, deadline time.Duration, debug bool) *Server {
	if debug {
		log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
		log.Println("Debug logging enabled")
	}
	if deadline <= 0 {
		deadline = 90 * time.Second
	}
	return &Server{
		db:       db,
		analyzer: analyzer,
		deadline: deadline,
		debug:    debug,
	}
}

func (s *Server) Start(port, staticDir string) error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)
	r.Handle("/*", http.FileServer(http.Dir(staticDir)))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("Starting server on port %s\n", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("ListenAndServe:", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// wsConn serializes writes to one websocket connection. Progress events
// fire from a timer goroutine, so writes need a lock.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(messageType string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := map[string]any{
		"type": messageType,
		"data": data,
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Println("Error sending message:", err)
	}
}

func (c *wsConn) sendError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := map[string]any{
		"type":    "error",
		"message": message,
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Println("Error sending error message:", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("WebSocket upgrade failed:", err)
		return
	}
	defer conn.Close()

	client := &wsConn{conn: conn}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Println("Error reading message:", err)
			break
		}

		var msg map[string]any
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Println("Error parsing message:", err)
			continue
		}

		s.handleMessage(r.Context(), client, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, client *wsConn, message map[string]any) {
	messageType, ok := message["type"].(string)
	if !ok {
		client.sendError("Invalid message format")
		return
	}

	data, _ := message["data"].(map[string]any)

	switch messageType {
	case "analyze":
		s.handleAnalyze(ctx, client, data)
	case "confirm_analysis":
		s.handleConfirmAnalysis(ctx, client, data)
	case "get_history":
		s.handleGetHistory(ctx, client, data)
	case "delete_history_item":
		s.handleDeleteHistoryItem(ctx, client, data)
	default:
		client.sendError("Unknown message type")
	}
}

func (s *Server) handleAnalyze(ctx context.Context, client *wsConn, data map[string]any) {
	imageStr, ok := data["image"].(string)
	if !ok || imageStr == "" {
		client.sendError("Invalid image data")
		return
	}
	userID, _ := data["user_id"].(string)

	raw, err := decodeImagePayload(imageStr, data)
	if err != nil {
		log.Printf("Error decoding image: %v", err)
		client.sendError("Invalid image encoding")
		return
	}

	profile := imageproc.DefaultProfile
	if p, _ := data["profile"].(string); p == "constrained" {
		profile = imageproc.ConstrainedProfile
	}

	// Bound worst-case latency: when the deadline elapses mid-inference
	// the analyzer substitutes a fallback estimate instead of waiting.
	actx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	item, err := s.analyzer.Analyze(actx, raw, userID, profile, func(stage analysis.Stage, percent int) {
		client.send("progress", map[string]any{
			"stage":   string(stage),
			"percent": percent,
		})
	})
	if err != nil {
		// Only genuinely bad input images surface here.
		log.Printf("Analysis failed: %v", err)
		if errors.Is(err, imageproc.ErrUnsupportedFormat) || errors.Is(err, imageproc.ErrImageTooDegraded) {
			client.sendError(err.Error())
		} else {
			client.sendError("Failed to analyze image")
		}
		return
	}

	if mt, _ := data["meal_type"].(string); models.ValidMealType(models.MealType(mt)) {
		item.MealType = models.MealType(mt)
	}

	log.Printf("Analysis complete (%s) - %s: %.0f kcal, P %.1fg, C %.1fg, F %.1fg",
		item.Source, item.Name, item.Calories, item.Protein, item.Carbs, item.Fat)

	// Hold the full item (image included) until the client confirms.
	s.pending.Store(item.ID, item)

	client.send("analysis_result", item)
}

func (s *Server) handleConfirmAnalysis(ctx context.Context, client *wsConn, data map[string]any) {
	id, _ := data["id"].(string)
	if id == "" {
		client.sendError("Missing analysis id")
		return
	}

	pendingAny, ok := s.pending.Load(id)
	if !ok {
		client.sendError("Analysis not found or already confirmed")
		return
	}
	item, ok := pendingAny.(*models.FoodItem)
	if !ok {
		log.Printf("Stored pending entry is not a food item: %T", pendingAny)
		client.sendError("Invalid stored analysis")
		return
	}
	s.pending.Delete(id)

	// Apply the user's amendments before persisting.
	if mt, _ := data["meal_type"].(string); models.ValidMealType(models.MealType(mt)) {
		item.MealType = models.MealType(mt)
	}
	if notes, ok := data["notes"].(string); ok {
		item.Notes = notes
	}
	if q, ok := data["quantity"].(float64); ok && q > 0 {
		item.Quantity = q
	}
	for field, dst := range map[string]*float64{
		"calories": &item.Calories,
		"protein":  &item.Protein,
		"carbs":    &item.Carbs,
		"fat":      &item.Fat,
		"fiber":    &item.Fiber,
		"sugar":    &item.Sugar,
	} {
		if v, ok := data[field].(float64); ok && v >= 0 {
			*dst = v
		}
	}

	if err := s.db.SaveFoodItem(ctx, item); err != nil {
		log.Printf("Error saving food item: %v", err)
		client.sendError("Failed to save results")
		return
	}

	log.Printf("Saved food analysis %s for user %s", item.ID, item.UserID)
	client.send("analysis_saved", map[string]any{"id": item.ID})
}

func (s *Server) handleGetHistory(ctx context.Context, client *wsConn, data map[string]any) {
	userID, _ := data["user_id"].(string)

	items, err := s.db.GetRecentFoodItems(ctx, userID, 20)
	if err != nil {
		log.Printf("Error retrieving history: %v", err)
		client.sendError("Failed to retrieve history")
		return
	}

	// Calculate day and week totals
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfWeek := now.AddDate(0, 0, -int(now.Weekday()))
	startOfWeek = time.Date(startOfWeek.Year(), startOfWeek.Month(), startOfWeek.Day(), 0, 0, 0, 0, startOfWeek.Location())

	var dayTotal, weekTotal struct {
		Calories float64
		Protein  float64
		Carbs    float64
		Fat      float64
	}

	for _, item := range items {
		if item.CreatedAt.After(startOfWeek) {
			weekTotal.Calories += item.Calories
			weekTotal.Protein += item.Protein
			weekTotal.Carbs += item.Carbs
			weekTotal.Fat += item.Fat

			if item.CreatedAt.After(startOfDay) {
				dayTotal.Calories += item.Calories
				dayTotal.Protein += item.Protein
				dayTotal.Carbs += item.Carbs
				dayTotal.Fat += item.Fat
			}
		}
	}

	client.send("history", map[string]any{
		"items": items,
		"day_total": map[string]float64{
			"calories": dayTotal.Calories,
			"protein":  dayTotal.Protein,
			"carbs":    dayTotal.Carbs,
			"fat":      dayTotal.Fat,
		},
		"week_total": map[string]float64{
			"calories": weekTotal.Calories,
			"protein":  weekTotal.Protein,
			"carbs":    weekTotal.Carbs,
			"fat":      weekTotal.Fat,
		},
	})
}

func (s *Server) handleDeleteHistoryItem(ctx context.Context, client *wsConn, data map[string]any) {
	id, _ := data["id"].(string)
	if id == "" {
		client.sendError("Missing analysis id")
		return
	}

	if err := s.db.DeleteFoodItem(ctx, id); err != nil {
		log.Printf("Error deleting food item %s: %v", id, err)
		client.sendError("Failed to delete entry")
		return
	}

	client.send("history_item_deleted", map[string]any{"id": id})
}

// decodeImagePayload accepts either a bare base64 string or a full data
// URL, stripping the prefix before decoding. The data-URL MIME type and
// an optional filename hint carry through for format detection.
func decodeImagePayload(imageStr string, data map[string]any) (imageproc.RawImage, error) {
	mime, _ := data["mime"].(string)
	name, _ := data["filename"].(string)

	if strings.HasPrefix(imageStr, "data:") {
		rest := strings.TrimPrefix(imageStr, "data:")
		if i := strings.Index(rest, ";base64,"); i >= 0 {
			if mime == "" {
				mime = rest[:i]
			}
			imageStr = rest[i+len(";base64,"):]
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(imageStr)
	if err != nil {
		return imageproc.RawImage{}, err
	}

	return imageproc.RawImage{Data: decoded, MIME: mime, Name: name}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
