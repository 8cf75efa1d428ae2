package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/observability"
	"github.com/TobiSchelling/reviewpulse/internal/pipeline"
)

var md = goldmark.New()

// Refresher runs ingestion followed by analysis.
type Refresher interface {
	Refresh(ctx context.Context) (*pipeline.RefreshReport, error)
}

// Options configure the HTTP surface.
type Options struct {
	// EnvChecks are environment variable names whose presence /api/health
	// reports. Values are never exposed.
	EnvChecks []string
	// RefreshTimeout bounds a manual refresh.
	RefreshTimeout time.Duration
}

// Server is the HTTP trigger, health, and summary surface.
type Server struct {
	db        *database.DB
	refresher Refresher
	opts      Options
	mux       *chi.Mux
}

// New creates a new Server.
func New(db *database.DB, refresher Refresher, opts Options) *Server {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Minute
	}
	s := &Server{db: db, refresher: refresher, opts: opts, mux: chi.NewRouter()}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.Use(chimw.RequestID)
	s.mux.Use(chimw.Recoverer)
	s.mux.Use(Metrics)
	s.mux.Use(Logger(log.Logger))

	s.mux.Get("/api/health", s.handleHealth)
	s.mux.Post("/api/reviews/refresh", s.handleRefresh)
	s.mux.Get("/api/apps", s.handleApps)
	s.mux.Get("/api/apps/{appID}/summary", s.handleSummary)
	s.mux.Handle("/metrics", observability.MetricsHandler(observability.InitRegistry()))
}

type healthDB struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Apps    int    `json:"app_count"`
	Reviews int    `json:"review_count"`
}

type healthResponse struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Environment map[string]bool `json:"environment"`
	Database    healthDB        `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC(),
		Environment: make(map[string]bool, len(s.opts.EnvChecks)),
		Database:    healthDB{Status: "connected"},
	}
	for _, name := range s.opts.EnvChecks {
		resp.Environment[name] = os.Getenv(name) != ""
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = healthDB{Status: "disconnected", Error: err.Error()}
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if stats, err := s.db.GetStats(); err == nil {
		resp.Database.Apps = stats.Apps
		resp.Database.Reviews = stats.Reviews
	} else {
		log.Warn().Err(err).Msg("health: reading stats")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("refresh is not available"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RefreshTimeout)
	defer cancel()

	log.Info().Msg("manual refresh requested")
	rep, err := s.refresher.Refresh(ctx)
	if err != nil {
		log.Error().Err(err).Msg("manual refresh failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Review refresh failed.",
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Review refresh completed.",
		"report":  rep,
	})
}

type appJSON struct {
	ID         int64     `json:"id"`
	Store      string    `json:"store"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) handleApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.db.ListApps()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]appJSON, len(apps))
	for i, a := range apps {
		out[i] = appJSON{ID: a.ID, Store: a.Store, ExternalID: a.ExternalID, Name: a.Name, CreatedAt: a.CreatedAt}
	}
	writeJSON(w, http.StatusOK, out)
}

type summaryJSON struct {
	AppID         int64           `json:"app_id"`
	Store         string          `json:"store"`
	DateKey       string          `json:"date_key"`
	DateLabel     string          `json:"date_label"`
	Window        string          `json:"window"`
	ReviewCount   int             `json:"review_count"`
	Topics        json.RawMessage `json:"topics"`
	Narrative     string          `json:"narrative"`
	NarrativeHTML string          `json:"narrative_html"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// handleSummary returns the summary for ?date=YYYY-MM-DD, or the latest one.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	appID, err := strconv.ParseInt(chi.URLParam(r, "appID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid app id"))
		return
	}
	app, err := s.db.GetApp(appID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if app == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("app %d not found", appID))
		return
	}

	var sum *database.Summary
	if date := r.URL.Query().Get("date"); date != "" {
		sum, err = s.db.GetSummary(app.Store, app.ID, date)
	} else {
		sum, err = s.db.LatestSummary(app.ID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sum == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no summary for app %d", appID))
		return
	}

	topics := json.RawMessage(sum.TopicsJSON)
	if !json.Valid(topics) {
		topics = json.RawMessage("[]")
	}
	writeJSON(w, http.StatusOK, summaryJSON{
		AppID:         sum.AppID,
		Store:         sum.Store,
		DateKey:       sum.DateKey,
		DateLabel:     database.FormatDateKey(sum.DateKey),
		Window:        sum.Window,
		ReviewCount:   sum.ReviewCount,
		Topics:        topics,
		Narrative:     sum.Narrative,
		NarrativeHTML: renderMarkdown(sum.Narrative),
		GeneratedAt:   sum.GeneratedAt,
	})
}

// renderMarkdown converts a narrative to HTML. goldmark escapes raw HTML by
// default, so model output cannot inject markup.
func renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return ""
	}
	return buf.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Serve starts the HTTP server on the given port and shuts it down when
// ctx is done.
func Serve(ctx context.Context, srv *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", "http://"+addr).Msg("server listening")
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
