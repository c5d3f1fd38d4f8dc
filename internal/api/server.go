package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/wincat/internal/capture"
	"github.com/bryanchriswhite/wincat/internal/config"
	"github.com/bryanchriswhite/wincat/internal/hook"
	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/bryanchriswhite/wincat/internal/module"
	"github.com/bryanchriswhite/wincat/internal/source"
	"github.com/bryanchriswhite/wincat/internal/window"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	module    *module.Module
	configMgr *config.Manager
	upgrader  websocket.Upgrader
	http      *http.Server
}

// NewServer creates a new API server. configMgr may be nil.
func NewServer(m *module.Module, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		module:    m,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods("GET")
	api.HandleFunc("/events", s.handleEvents)

	// Sources
	api.HandleFunc("/sources", s.handleListSources).Methods("GET")
	api.HandleFunc("/sources", s.handleCreateSource).Methods("POST")
	api.HandleFunc("/sources/{id}", s.handleGetSource).Methods("GET")
	api.HandleFunc("/sources/{id}", s.handleDeleteSource).Methods("DELETE")
	api.HandleFunc("/sources/{id}/settings", s.handleUpdateSettings).Methods("PUT")
	api.HandleFunc("/sources/{id}/poke", s.handlePoke).Methods("POST")
	api.HandleFunc("/sources/{id}/activate", s.handleActivate).Methods("POST")
	api.HandleFunc("/sources/{id}/deactivate", s.handleDeactivate).Methods("POST")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Preview streams
	s.router.HandleFunc("/stream/{id}", s.handleStream).Methods("GET")
	s.router.HandleFunc("/stream/{id}/stats", s.handleStreamStats).Methods("GET")

	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithComponent("api").Info().Str("addr", "http://localhost"+addr).Msg("Starting server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to encode response")
	}
}

func success(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// lookup resolves the {id} route variable, writing a 404 when unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*source.Source, bool) {
	id := mux.Vars(r)["id"]
	src, ok := s.module.Source(id)
	if !ok {
		http.Error(w, fmt.Sprintf("source %q not found", id), http.StatusNotFound)
	}
	return src, ok
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"version":  Version,
		"sources":  len(s.module.Sources()),
		"captures": capture.Count(),
		"hook":     s.module.Bus().Stats(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.module.Snapshots().Load()
	if snap == nil {
		snap = &window.Snapshot{Processes: []window.Process{}}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources := s.module.Sources()
	infos := make([]source.Info, 0, len(sources))
	for _, src := range sources {
		infos = append(infos, src.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

// settingsRequest is a partial source update; nil fields keep their value.
type settingsRequest struct {
	Name       *string `json:"name"`
	Script     *string `json:"script"`
	Cursor     *bool   `json:"cursor"`
	Borders    *bool   `json:"borders"`
	ClientArea *bool   `json:"client_area"`
	ForceSDR   *bool   `json:"force_sdr"`
}

func (req settingsRequest) apply(st source.Settings) source.Settings {
	if req.Name != nil {
		st.Name = *req.Name
	}
	if req.Script != nil {
		st.Script = *req.Script
	}
	if req.Cursor != nil {
		st.Options.Cursor = *req.Cursor
	}
	if req.Borders != nil {
		st.Options.Borders = *req.Borders
	}
	if req.ClientArea != nil {
		st.Options.ClientArea = *req.ClientArea
	}
	if req.ForceSDR != nil {
		st.Options.ForceSDR = *req.ForceSDR
	}
	return st
}

func (s *Server) defaultSettings() source.Settings {
	st := source.Settings{Options: capture.DefaultOptions()}
	if s.configMgr != nil {
		st.Options = s.configMgr.Get().Options(config.SourceConfig{})
	}
	return st
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	src, err := s.module.NewSource(req.apply(s.defaultSettings()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, src.Info())
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, src.Info())
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	if !s.module.DestroySource(mux.Vars(r)["id"]) {
		http.NotFound(w, r)
		return
	}
	success(w)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	src, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	src.Update(req.apply(src.Settings()))
	writeJSON(w, http.StatusOK, src.Info())
}

func (s *Server) handlePoke(w http.ResponseWriter, r *http.Request) {
	src, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !src.Poke() {
		http.Error(w, "source is not active", http.StatusConflict)
		return
	}
	success(w)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	src, ok := s.lookup(w, r)
	if !ok {
		return
	}
	src.Activate()
	success(w)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	src, ok := s.lookup(w, r)
	if !ok {
		return
	}
	src.Deactivate()
	success(w)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "no config file in use", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

// windowEvent is one bus notification as sent over the events websocket.
type windowEvent struct {
	Window window.Handle `json:"hwnd"`
	Poke   bool          `json:"poke"`
	Time   time.Time     `json:"time"`
}

// handleEvents streams bus notifications. The connection holds a hook
// reference like a selection worker does.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	bus := s.module.Bus()
	if err := bus.Acquire(); err != nil {
		if errors.Is(err, hook.ErrBusClosed) {
			return
		}
		log.Debug().Err(err).Msg("Hook unavailable for event stream")
	}
	defer bus.Release()

	key, inbox := bus.Subscribe()
	defer bus.Unsubscribe(key)

	// Reads detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-inbox.Ready():
		}

		for {
			ev, ok := inbox.Next()
			if !ok {
				break
			}
			msg := windowEvent{Window: ev.Window, Poke: ev.IsPoke(), Time: time.Now()}
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	out, ok := s.module.Host().Output(mux.Vars(r)["id"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	out.GetHTTPHandler()(w, r)
}

func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	out, ok := s.module.Host().Output(mux.Vars(r)["id"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, out.Stats())
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>wincat</title>
    <style>
        body { font-family: sans-serif; background: #1a1a1a; color: #eee; margin: 20px; }
        .source { display: inline-block; margin: 10px; vertical-align: top; }
        img { max-width: 480px; background: #000; display: block; }
        a { color: #8ab4f8; }
    </style>
</head>
<body>
    <h1>wincat</h1>
    <p><a href="/api/sources">/api/sources</a> · <a href="/api/snapshot">/api/snapshot</a> · <a href="/api/health">/api/health</a></p>
    {{range .}}
    <div class="source">
        <h3>{{.Name}}{{if .Capturing}} ({{.Width}}x{{.Height}}){{end}}</h3>
        <img src="/stream/{{.ID}}" alt="{{.Name}}">
    </div>
    {{else}}
    <p>No sources configured.</p>
    {{end}}
</body>
</html>`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sources := s.module.Sources()
	infos := make([]source.Info, 0, len(sources))
	for _, src := range sources {
		infos = append(infos, src.Info())
	}

	w.Header().Set("Content-Type", "text/html")
	if err := indexTemplate.Execute(w, infos); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to render index")
	}
}
