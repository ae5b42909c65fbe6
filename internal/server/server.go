package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/kartoza/funcatlas/internal/adapter"
	"github.com/kartoza/funcatlas/internal/api"
	"github.com/kartoza/funcatlas/internal/config"
	"github.com/kartoza/funcatlas/internal/neurons"
	"github.com/kartoza/funcatlas/internal/presets"
)

//go:embed static/*
var staticFS embed.FS

//go:embed templates/*.html
var templateFS embed.FS

// Server holds all the components for the web application
type Server struct {
	cfg         config.Config
	httpServer  *http.Server
	router      *mux.Router
	templates   *template.Template
	directory   *neurons.Store
	adapter     *adapter.Adapter
	presetStore *presets.Store
}

// New creates a new Server with all components initialized. Stores that fail
// to open are logged and left nil; the pages degrade accordingly.
func New(cfg config.Config) (*Server, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		templates: tmpl,
		adapter:   adapter.New(cfg.AtlasDir()),
	}

	// Initialize neuron directory
	directory, err := neurons.NewStore(context.Background(), cfg.DatabasePath())
	if err != nil {
		log.Printf("Warning: Neuron directory not available: %v", err)
	} else {
		s.directory = directory
	}

	// Initialize presets store
	presetStore, err := presets.NewStore(cfg.DataDir)
	if err != nil {
		log.Printf("Warning: Presets store not available: %v", err)
	} else {
		s.presetStore = presetStore
	}

	s.setupRoutes()

	return s, nil
}

// Router exposes the configured routes, mainly for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// API routes
	apiRouter := s.router.PathPrefix("/api").Subrouter()
	apiHandler := api.NewHandler(s.directory, s.adapter, s.presetStore, s.cfg)
	apiHandler.RegisterRoutes(apiRouter)

	// Atlas pack management routes
	s.router.HandleFunc("/api/atlaspack/status", s.handleAtlasPackStatus).Methods("GET")
	s.router.HandleFunc("/api/atlaspack/install", s.handleAtlasPackInstall).Methods("POST")

	// Neuron list for the stimulated neuron selector
	s.router.HandleFunc("/load_neurons", apiHandler.HandleNeurons).Methods("GET")

	// Presets and short links
	s.router.HandleFunc("/presets", s.handleSavePreset).Methods("POST")
	s.router.HandleFunc("/p/{id}", s.handlePresetLink).Methods("GET")

	// Serve preset thumbnails from data/images directory
	if s.presetStore != nil {
		s.router.PathPrefix("/data/images/").Handler(
			http.StripPrefix("/data/images/", http.FileServer(http.Dir(s.presetStore.ImagesDir()))))
	}

	// Static assets (embedded)
	staticContent, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Printf("Warning: Could not load embedded static files: %v", err)
	} else {
		s.router.PathPrefix("/static/").Handler(
			http.StripPrefix("/static/", http.FileServer(http.FS(staticContent))))
	}

	// Home page
	s.router.HandleFunc("/", s.handleHome).Methods("GET", "POST")
}

// Start begins listening for HTTP connections
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Server listening on http://localhost:%d", s.cfg.Port)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close stores
	if s.directory != nil {
		s.directory.Close()
	}

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
